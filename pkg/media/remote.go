package media

import (
	"log"
	"sync"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v4"

	"github.com/solace-ai/solace/pkg/audio"
)

const (
	// WebRTC audio arrives as 48kHz Opus.
	remoteSampleRate = 48000

	// A track is considered live while packets arrived this recently.
	liveWindow = time.Second

	// Max samples per Opus frame at 48kHz (120ms).
	maxOpusFrameSamples = 5760
)

// RemoteStream wraps the avatar's incoming WebRTC tracks. The video
// track contributes liveness evidence; the audio track is decoded to
// PCM and exposed as a tappable source for fallback transcription.
type RemoteStream struct {
	id string

	mu         sync.Mutex
	lastPacket time.Time
	tap        func(pcm []byte, sampleRate int)
	closed     bool
}

// NewRemoteStream creates an unbound remote stream handle.
func NewRemoteStream(id string) *RemoteStream {
	return &RemoteStream{id: id}
}

// Bind subscribes to incoming tracks on the peer connection.
func (r *RemoteStream) Bind(pc *webrtc.PeerConnection) {
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Printf("[Media] Remote track: %s (%s)", track.ID(), track.Kind())
		switch track.Kind() {
		case webrtc.RTPCodecTypeAudio:
			go r.readAudio(track)
		case webrtc.RTPCodecTypeVideo:
			go r.readVideo(track)
		}
	})
}

// readAudio decodes the Opus audio track and delivers PCM to the tap.
func (r *RemoteStream) readAudio(track *webrtc.TrackRemote) {
	decoder, err := opus.NewDecoder(remoteSampleRate, 1)
	if err != nil {
		log.Printf("[Media] Opus decoder init failed: %v", err)
		return
	}

	pcm := make([]int16, maxOpusFrameSamples)
	for {
		packet, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		r.notePacket()

		if len(packet.Payload) == 0 {
			continue
		}
		n, err := decoder.Decode(packet.Payload, pcm)
		if err != nil {
			log.Printf("[Media] Opus decode error: %v", err)
			continue
		}
		r.deliverPCM(audio.Int16ToBytes(pcm[:n]))
	}
}

// readVideo drains the video track for liveness evidence only; frames
// are rendered by the consumer, not decoded here.
func (r *RemoteStream) readVideo(track *webrtc.TrackRemote) {
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
		r.notePacket()
	}
}

func (r *RemoteStream) notePacket() {
	r.mu.Lock()
	r.lastPacket = time.Now()
	r.mu.Unlock()
}

func (r *RemoteStream) deliverPCM(pcm []byte) {
	r.mu.Lock()
	tap := r.tap
	closed := r.closed
	r.mu.Unlock()
	if closed || tap == nil {
		return
	}
	tap(pcm, remoteSampleRate)
}

// ID identifies the stream.
func (r *RemoteStream) ID() string {
	return r.id
}

// Live reports whether packets arrived within the live window.
func (r *RemoteStream) Live() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.lastPacket.IsZero() && time.Since(r.lastPacket) < liveWindow
}

// TapPCM attaches the single audio tap. A second concurrent tap is
// refused with audio.ErrTapUnavailable.
func (r *RemoteStream) TapPCM(fn func(pcm []byte, sampleRate int)) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, audio.ErrTapUnavailable
	}
	if r.tap != nil {
		return nil, audio.ErrTapUnavailable
	}
	r.tap = fn

	released := false
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if released {
			return
		}
		released = true
		r.tap = nil
	}, nil
}

// Close stops PCM delivery. Track readers exit when the peer
// connection closes their tracks.
func (r *RemoteStream) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.tap = nil
	return nil
}

var (
	_ Stream         = (*RemoteStream)(nil)
	_ audio.Tappable = (*RemoteStream)(nil)
)

// remoteSink adapts a RemoteStream to the VideoSink interface for
// headless deployments where no element exists: playback evidence is
// RTP flow.
type remoteSink struct {
	mu       sync.Mutex
	stream   *RemoteStream
	attached bool
}

// NewRemoteSink creates a VideoSink whose readiness tracks the remote
// stream's packet flow.
func NewRemoteSink() VideoSink {
	return &remoteSink{}
}

func (s *remoteSink) Attach(stream Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rs, ok := stream.(*RemoteStream); ok {
		s.stream = rs
	} else {
		s.stream = nil
	}
	s.attached = stream != nil
	return nil
}

func (s *remoteSink) Detach() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stream = nil
	s.attached = false
	return nil
}

func (s *remoteSink) Play() error {
	return nil
}

func (s *remoteSink) SetMuted(bool) {}

func (s *remoteSink) State() SinkState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := SinkState{HasStream: s.attached}
	if s.stream != nil && s.stream.Live() {
		state.Playing = true
	}
	return state
}

var _ VideoSink = (*remoteSink)(nil)
