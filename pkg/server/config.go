package server

// Config holds the gateway configuration. All vendor API keys live
// here, server-side; the browser only ever sees minted tokens and
// proxied responses.
type Config struct {
	// Addr is the HTTP listen address, e.g. ":8080".
	Addr string

	// AllowedOrigin is the CORS origin allowed on the API endpoints.
	// "*" during development.
	AllowedOrigin string

	// AvatarAPIKey authenticates against the avatar vendor.
	AvatarAPIKey string

	// AvatarBaseURL is the avatar vendor's API base URL.
	AvatarBaseURL string

	// RTCUDPPort is the UDP port the WebRTC ICE mux listens on.
	RTCUDPPort int
}

// DefaultConfig returns the development defaults.
func DefaultConfig() Config {
	return Config{
		Addr:          ":8080",
		AllowedOrigin: "*",
		AvatarBaseURL: "https://api.heygen.com",
		RTCUDPPort:    9000,
	}
}
