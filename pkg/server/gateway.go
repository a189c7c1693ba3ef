// Package server is the gateway between the browser UI and the vendor
// APIs. It mints avatar session tokens, generates persona replies and
// proxies streaming transcription, injecting API keys server-side so
// the browser never holds one. It also negotiates the WebRTC peer
// connection that delivers the avatar's media stream.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/solace-ai/solace/pkg/audio"
	"github.com/solace-ai/solace/pkg/llm"
	"github.com/solace-ai/solace/pkg/media"
	"github.com/solace-ai/solace/pkg/stt"
	"github.com/solace-ai/solace/pkg/trace"
)

// Gateway serves the API endpoints the browser UI talks to.
type Gateway struct {
	cfg        Config
	reply      llm.ReplyProvider
	stt        stt.Provider
	httpClient *http.Client
	upgrader   websocket.Upgrader

	api *webrtc.API
	srv *http.Server

	mu    sync.RWMutex
	peers map[string]*peerSession
}

type peerSession struct {
	pc     *webrtc.PeerConnection
	stream *media.RemoteStream
}

// NewGateway creates a gateway. The reply provider and STT provider may
// be nil; the corresponding endpoints then report 503.
func NewGateway(cfg Config, reply llm.ReplyProvider, sttProvider stt.Provider) *Gateway {
	return &Gateway{
		cfg:        cfg,
		reply:      reply,
		stt:        sttProvider,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		peers: make(map[string]*peerSession),
	}
}

// Routes returns the gateway's HTTP handler.
func (g *Gateway) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/session/token", g.handleSessionToken)
	mux.HandleFunc("/api/reply", g.handleReply)
	mux.HandleFunc("/api/transcribe", g.handleTranscribe)
	mux.HandleFunc("/api/negotiate", g.handleNegotiate)
	mux.HandleFunc("/healthz", g.handleHealth)
	return mux
}

// Start brings up the WebRTC API and the HTTP listener.
func (g *Gateway) Start() error {
	if err := g.setupRTC(); err != nil {
		return err
	}

	g.srv = &http.Server{
		Addr:    g.cfg.Addr,
		Handler: g.Routes(),
	}
	go func() {
		log.Printf("[Gateway] Listening on %s", g.cfg.Addr)
		if err := g.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[Gateway] Serve error: %v", err)
		}
	}()
	return nil
}

// Shutdown stops the HTTP listener and closes all peer connections.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	for id, peer := range g.peers {
		peer.stream.Close()
		_ = peer.pc.Close()
		delete(g.peers, id)
	}
	g.mu.Unlock()

	if g.srv == nil {
		return nil
	}
	return g.srv.Shutdown(ctx)
}

func (g *Gateway) setupRTC() error {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetFireOnTrackBeforeFirstRTP(true)
	settingEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeTCP4,
	})

	udpListener, err := net.ListenUDP("udp", &net.UDPAddr{
		IP:   net.ParseIP("0.0.0.0"),
		Port: g.cfg.RTCUDPPort,
	})
	if err != nil {
		return fmt.Errorf("failed to listen on UDP port %d: %w", g.cfg.RTCUDPPort, err)
	}

	udpMux := webrtc.NewICEUDPMux(nil, udpListener)
	settingEngine.SetICEUDPMux(udpMux)

	g.api = webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return nil
}

// cors sets the CORS headers and swallows preflight requests. Returns
// true when the caller should continue.
func (g *Gateway) cors(w http.ResponseWriter, r *http.Request) bool {
	w.Header().Set("Access-Control-Allow-Origin", g.cfg.AllowedOrigin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return false
	}
	return true
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !g.cors(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSessionToken mints a short-lived avatar vendor token. The
// vendor API key stays on this side.
func (g *Gateway) handleSessionToken(w http.ResponseWriter, r *http.Request) {
	if !g.cors(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if g.cfg.AvatarAPIKey == "" {
		http.Error(w, "Avatar vendor not configured", http.StatusServiceUnavailable)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost,
		g.cfg.AvatarBaseURL+"/v1/streaming.create_token", nil)
	if err != nil {
		http.Error(w, "Failed to build vendor request", http.StatusInternalServerError)
		return
	}
	req.Header.Set("X-Api-Key", g.cfg.AvatarAPIKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		log.Printf("[Gateway] Token mint failed: %v", err)
		http.Error(w, "Vendor request failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode >= 300 {
		log.Printf("[Gateway] Token mint rejected: status %d", resp.StatusCode)
		http.Error(w, "Vendor request failed", http.StatusBadGateway)
		return
	}

	token, err := parseTokenResponse(body)
	if err != nil {
		log.Printf("[Gateway] Token response unreadable: %v", err)
		http.Error(w, "Vendor response unreadable", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// parseTokenResponse extracts the token from the vendor's response,
// which arrives either flat or wrapped in a data envelope.
func parseTokenResponse(body []byte) (string, error) {
	var raw struct {
		Token string `json:"token"`
		Data  struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", err
	}
	if raw.Token != "" {
		return raw.Token, nil
	}
	if raw.Data.Token != "" {
		return raw.Data.Token, nil
	}
	return "", fmt.Errorf("no token in vendor response")
}

// handleReply generates the persona's reply to a finalized user turn.
func (g *Gateway) handleReply(w http.ResponseWriter, r *http.Request) {
	if !g.cors(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if g.reply == nil {
		http.Error(w, "Reply provider not configured", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		http.Error(w, "Failed to parse request", http.StatusBadRequest)
		return
	}

	var reply string
	err := trace.WithSpan(r.Context(), "gateway.reply", func(ctx context.Context) error {
		var err error
		reply, err = g.reply.Reply(ctx, req.Text)
		return err
	})
	if err != nil {
		log.Printf("[Gateway] Reply generation failed: %v", err)
		http.Error(w, "Reply generation failed", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

// sttResult is the wire shape of a transcription result on the
// /api/transcribe websocket.
type sttResult struct {
	UtteranceID string  `json:"utterance_id"`
	Text        string  `json:"text"`
	IsFinal     bool    `json:"is_final"`
	Confidence  float32 `json:"confidence"`
}

// handleTranscribe proxies a streaming recognition session: binary
// websocket messages carry 16kHz mono PCM upstream, JSON messages carry
// results downstream. The STT provider's key never leaves the gateway.
func (g *Gateway) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if g.stt == nil {
		http.Error(w, "STT provider not configured", http.StatusServiceUnavailable)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Gateway] Transcribe upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	recognizer, err := g.stt.StreamingRecognize(r.Context(), stt.AudioConfig{
		SampleRate:    audio.CaptureSampleRate,
		Channels:      1,
		Encoding:      "pcm",
		BitsPerSample: 16,
	}, stt.RecognitionConfig{Language: "en", EnableInterimResults: true})
	if err != nil {
		log.Printf("[Gateway] Recognizer start failed: %v", err)
		_ = conn.WriteJSON(map[string]string{"error": "recognizer unavailable"})
		return
	}
	defer recognizer.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for result := range recognizer.Results() {
			out := sttResult{
				UtteranceID: result.UtteranceID,
				Text:        result.Text,
				IsFinal:     result.IsFinal,
				Confidence:  result.Confidence,
			}
			if err := conn.WriteJSON(out); err != nil {
				return
			}
		}
		if err := recognizer.Err(); err != nil {
			_ = conn.WriteJSON(map[string]string{"error": err.Error()})
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		if err := recognizer.SendAudio(r.Context(), data); err != nil {
			log.Printf("[Gateway] Audio forward failed: %v", err)
			break
		}
	}

	recognizer.Close()
	<-done
}

// handleNegotiate answers a WebRTC offer and binds the avatar's media
// stream to the new peer connection.
func (g *Gateway) handleNegotiate(w http.ResponseWriter, r *http.Request) {
	if !g.cors(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if g.api == nil {
		http.Error(w, "Negotiation unavailable", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(body, &offer); err != nil {
		http.Error(w, "Failed to parse offer", http.StatusBadRequest)
		return
	}

	pc, err := g.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{},
	})
	if err != nil {
		http.Error(w, "Failed to create peer connection", http.StatusInternalServerError)
		return
	}

	peerID := uuid.NewString()
	stream := media.NewRemoteStream(peerID)
	stream.Bind(pc)

	g.mu.Lock()
	g.peers[peerID] = &peerSession{pc: pc, stream: stream}
	g.mu.Unlock()

	if err := pc.SetRemoteDescription(offer); err != nil {
		g.dropPeer(peerID)
		http.Error(w, "Failed to set remote description", http.StatusInternalServerError)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		g.dropPeer(peerID)
		http.Error(w, "Failed to create answer", http.StatusInternalServerError)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		g.dropPeer(peerID)
		http.Error(w, "Failed to set local description", http.StatusInternalServerError)
		return
	}

	<-webrtc.GatheringCompletePromise(pc)

	w.Header().Set("Content-Type", "application/sdp")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(pc.LocalDescription())
}

// Stream returns the media stream for a negotiated peer.
func (g *Gateway) Stream(peerID string) (*media.RemoteStream, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	peer, ok := g.peers[peerID]
	if !ok {
		return nil, false
	}
	return peer.stream, true
}

func (g *Gateway) dropPeer(peerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if peer, ok := g.peers[peerID]; ok {
		peer.stream.Close()
		_ = peer.pc.Close()
		delete(g.peers, peerID)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
