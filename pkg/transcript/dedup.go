package transcript

import (
	"sync"
	"time"
)

// DefaultDedupRetention is how long a seen utterance suppresses
// duplicates of itself.
const DefaultDedupRetention = 5 * time.Second

type dedupEntry struct {
	normalizedText string
	seenAt         time.Time
}

// DedupWindow suppresses duplicate utterances per speaker. Separate
// buffers are kept for each speaker and matching never crosses them:
// both parties saying "yes" within the window is legitimate and both
// must survive. (An earlier cross-speaker design silently dropped user
// utterances that reused a word the avatar had just said.)
type DedupWindow struct {
	mu        sync.Mutex
	retention time.Duration
	entries   map[Speaker][]dedupEntry
}

// NewDedupWindow creates a window with the given retention. Zero means
// DefaultDedupRetention.
func NewDedupWindow(retention time.Duration) *DedupWindow {
	if retention <= 0 {
		retention = DefaultDedupRetention
	}
	return &DedupWindow{
		retention: retention,
		entries:   make(map[Speaker][]dedupEntry),
	}
}

// SeenRecently reports whether the same speaker produced the same
// normalized text within the retention window, and records the text
// either way. text must already be normalized.
func (w *DedupWindow) SeenRecently(speaker Speaker, text string, now time.Time) bool {
	if text == "" {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(speaker, now)

	for _, e := range w.entries[speaker] {
		if e.normalizedText == text {
			return true
		}
	}

	w.entries[speaker] = append(w.entries[speaker], dedupEntry{
		normalizedText: text,
		seenAt:         now,
	})
	return false
}

// Contains reports whether the same speaker produced the same
// normalized text within the retention window, without recording it.
func (w *DedupWindow) Contains(speaker Speaker, text string, now time.Time) bool {
	if text == "" {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(speaker, now)

	for _, e := range w.entries[speaker] {
		if e.normalizedText == text {
			return true
		}
	}
	return false
}

func (w *DedupWindow) pruneLocked(speaker Speaker, now time.Time) {
	entries := w.entries[speaker]
	cutoff := now.Add(-w.retention)
	keep := entries[:0]
	for _, e := range entries {
		if e.seenAt.After(cutoff) {
			keep = append(keep, e)
		}
	}
	w.entries[speaker] = keep
}

// Clear empties all buffers.
func (w *DedupWindow) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = make(map[Speaker][]dedupEntry)
}
