package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solace-ai/solace/pkg/transcript"
)

func TestCollectorSkipsInterim(t *testing.T) {
	c := NewCollector("s1")

	c.Add(transcript.Entry{Speaker: transcript.SpeakerAvatar, Text: "I just", IsInterim: true})
	c.Add(transcript.Entry{Speaker: transcript.SpeakerAvatar, Text: "I just miss her", Timestamp: time.Now()})
	c.Add(transcript.Entry{Speaker: transcript.SpeakerUser, Text: "I'm so sorry", Timestamp: time.Now()})

	assert.Equal(t, 2, c.Len())

	out := c.Transcript()
	assert.Equal(t, "s1", out.SessionID)
	require.Len(t, out.Entries, 2)
	assert.Equal(t, "avatar", out.Entries[0].Speaker)
	assert.Equal(t, "user", out.Entries[1].Speaker)
}

func TestWriteJSON(t *testing.T) {
	c := NewCollector("s1")
	c.Add(transcript.Entry{Speaker: transcript.SpeakerUser, Text: "hello", Timestamp: time.Now()})

	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, Write(path, FormatJSON, c.Transcript()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded Transcript
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "s1", decoded.SessionID)
	require.Len(t, decoded.Entries, 1)
	assert.Equal(t, "hello", decoded.Entries[0].Text)
}

func TestWriteText(t *testing.T) {
	c := NewCollector("s1")
	c.Add(transcript.Entry{Speaker: transcript.SpeakerAvatar, Text: "Thank you for coming", Timestamp: time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)})

	path := filepath.Join(t.TempDir(), "session.txt")
	require.NoError(t, Write(path, FormatText, c.Transcript()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Session s1")
	assert.Contains(t, string(data), "[10:30:00] avatar: Thank you for coming")
}

func TestWriteUnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.xml")
	assert.Error(t, Write(path, Format("xml"), Transcript{}))
}
