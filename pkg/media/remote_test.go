package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solace-ai/solace/pkg/audio"
)

func TestRemoteStreamTapSingleOwner(t *testing.T) {
	rs := NewRemoteStream("stream-1")
	assert.Equal(t, "stream-1", rs.ID())

	var got [][]byte
	release, err := rs.TapPCM(func(pcm []byte, sampleRate int) {
		assert.Equal(t, remoteSampleRate, sampleRate)
		got = append(got, pcm)
	})
	require.NoError(t, err)

	// Second tap is refused while the first holds the graph.
	_, err = rs.TapPCM(func([]byte, int) {})
	assert.ErrorIs(t, err, audio.ErrTapUnavailable)

	rs.deliverPCM([]byte{1, 0, 2, 0})
	require.Len(t, got, 1)

	release()
	rs.deliverPCM([]byte{3, 0})
	assert.Len(t, got, 1)

	// Released: a new tap may attach.
	_, err = rs.TapPCM(func([]byte, int) {})
	assert.NoError(t, err)
}

func TestRemoteStreamTapAfterClose(t *testing.T) {
	rs := NewRemoteStream("stream-1")
	require.NoError(t, rs.Close())

	_, err := rs.TapPCM(func([]byte, int) {})
	assert.ErrorIs(t, err, audio.ErrTapUnavailable)
}

func TestRemoteStreamLiveness(t *testing.T) {
	rs := NewRemoteStream("stream-1")
	assert.False(t, rs.Live())

	rs.notePacket()
	assert.True(t, rs.Live())
}

func TestRemoteSink(t *testing.T) {
	sink := NewRemoteSink()

	state := sink.State()
	assert.False(t, state.HasStream)

	rs := NewRemoteStream("stream-1")
	require.NoError(t, sink.Attach(rs))

	// Attached but no packets yet: present, not playing.
	state = sink.State()
	assert.True(t, state.HasStream)
	assert.False(t, state.Playing)

	rs.notePacket()
	state = sink.State()
	assert.True(t, state.Playing)

	require.NoError(t, sink.Detach())
	assert.False(t, sink.State().HasStream)

	// Play and mute are no-ops in headless mode.
	assert.NoError(t, sink.Play())
	sink.SetMuted(true)
}
