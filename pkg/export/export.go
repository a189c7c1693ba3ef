// Package export writes a finished training session's transcript to
// disk, as JSON for tooling or plain text for review.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/solace-ai/solace/pkg/transcript"
)

// Format selects the output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Transcript is one session's complete reconciled transcript.
type Transcript struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Entries   []Entry   `json:"entries"`
}

// Entry is one finalized transcript line.
type Entry struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Collector accumulates finalized entries during a session. Register
// Add as the session's transcript callback; interim entries are
// ignored.
type Collector struct {
	sessionID string
	startedAt time.Time
	entries   []Entry
}

// NewCollector creates a collector for one session.
func NewCollector(sessionID string) *Collector {
	return &Collector{
		sessionID: sessionID,
		startedAt: time.Now(),
	}
}

// Add records a reconciled entry. Interim entries are skipped; only
// finalized lines belong in the export.
func (c *Collector) Add(entry transcript.Entry) {
	if entry.IsInterim {
		return
	}
	c.entries = append(c.entries, Entry{
		Speaker:   string(entry.Speaker),
		Text:      entry.Text,
		Timestamp: entry.Timestamp,
	})
}

// Len returns the number of collected entries.
func (c *Collector) Len() int {
	return len(c.entries)
}

// Transcript finishes the collection.
func (c *Collector) Transcript() Transcript {
	return Transcript{
		SessionID: c.sessionID,
		StartedAt: c.startedAt,
		EndedAt:   time.Now(),
		Entries:   append([]Entry(nil), c.entries...),
	}
}

// Write writes the transcript to path in the given format.
func Write(path string, format Format, t Transcript) error {
	var data []byte
	var err error

	switch format {
	case FormatJSON:
		data, err = json.MarshalIndent(t, "", "  ")
		if err != nil {
			return fmt.Errorf("encode transcript: %w", err)
		}
		data = append(data, '\n')
	case FormatText:
		data = []byte(renderText(t))
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}

	return os.WriteFile(path, data, 0o644)
}

func renderText(t Transcript) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s\n", t.SessionID)
	fmt.Fprintf(&b, "Started %s\n\n", t.StartedAt.Format(time.RFC3339))
	for _, e := range t.Entries {
		fmt.Fprintf(&b, "[%s] %s: %s\n", e.Timestamp.Format("15:04:05"), e.Speaker, e.Text)
	}
	return b.String()
}
