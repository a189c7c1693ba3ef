package transcript

import (
	"strings"
	"time"
)

// AttributionConfig holds the heuristic thresholds for attributing
// fragments that arrive without a definitive speaker tag. The values
// were tuned empirically; they are configuration defaults, not hard
// requirements. The contract is "default to avatar unless timing
// strongly indicates user".
type AttributionConfig struct {
	// CommonWordUserWindow: a common short word counts as the user's
	// only if the user's own speech ended no longer than this ago.
	CommonWordUserWindow time.Duration
	// CommonWordAvatarQuiet: ...and the avatar has been silent at
	// least this long.
	CommonWordAvatarQuiet time.Duration

	// Fallback thresholds for short ambiguous text that is neither a
	// common word nor a service phrase.
	AmbiguousAvatarQuiet time.Duration
	AmbiguousUserWindow  time.Duration
	AmbiguousMaxChars    int
}

// DefaultAttributionConfig returns the tuned defaults.
func DefaultAttributionConfig() AttributionConfig {
	return AttributionConfig{
		CommonWordUserWindow:  time.Second,
		CommonWordAvatarQuiet: 8 * time.Second,
		AmbiguousAvatarQuiet:  10 * time.Second,
		AmbiguousUserWindow:   800 * time.Millisecond,
		AmbiguousMaxChars:     12,
	}
}

// commonShortWords are words either party plausibly says in isolation.
var commonShortWords = map[string]bool{
	"yes":   true,
	"yeah":  true,
	"no":    true,
	"okay":  true,
	"ok":    true,
	"right": true,
	"so":    true,
	"sure":  true,
	"hmm":   true,
	"mhm":   true,
	"uh":    true,
	"um":    true,
}

// avatarPhrases are characteristic acknowledgment/service language the
// avatar persona produces; always attributed to the avatar regardless
// of timing.
var avatarPhrases = []string{
	"thank you",
	"i understand",
	"of course",
	"i see",
	"i appreciate",
	"you're welcome",
	"my condolences",
	"take your time",
	"please go ahead",
}

// Attributor decides the speaker for fragments with an uncertain tag.
type Attributor struct {
	cfg AttributionConfig
}

// NewAttributor creates an attributor with the given thresholds.
func NewAttributor(cfg AttributionConfig) *Attributor {
	return &Attributor{cfg: cfg}
}

// Attribute resolves the speaker of text given the timing context:
// lastUserEnd is when the user's most recent recognized speech ended,
// lastAvatarAt is when the avatar last spoke. Zero times mean "never".
func (a *Attributor) Attribute(text string, now, lastUserEnd, lastAvatarAt time.Time) Speaker {
	normalized := Normalize(text)

	for _, phrase := range avatarPhrases {
		if strings.HasPrefix(normalized, phrase) {
			return SpeakerAvatar
		}
	}

	userEndedAgo := durationSince(now, lastUserEnd)
	avatarQuietFor := durationSince(now, lastAvatarAt)

	if commonShortWords[normalized] {
		if userEndedAgo < a.cfg.CommonWordUserWindow && avatarQuietFor > a.cfg.CommonWordAvatarQuiet {
			return SpeakerUser
		}
		return SpeakerAvatar
	}

	if avatarQuietFor > a.cfg.AmbiguousAvatarQuiet &&
		userEndedAgo < a.cfg.AmbiguousUserWindow &&
		len(normalized) < a.cfg.AmbiguousMaxChars &&
		!hasTerminalPunctuation(text) {
		return SpeakerUser
	}

	return SpeakerAvatar
}

// durationSince treats a zero time as infinitely long ago.
func durationSince(now, t time.Time) time.Duration {
	if t.IsZero() {
		return time.Duration(1<<62 - 1)
	}
	return now.Sub(t)
}
