package trace

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys used across the conversation core.
const (
	AttrSessionID = "session.id"

	// Audio attributes.
	AttrAudioSampleRate = "audio.sample_rate"
	AttrAudioChannels   = "audio.channels"
	AttrAudioDataSize   = "audio.data_size"

	// Media attachment attributes.
	AttrMediaStreamID = "media.stream_id"
	AttrMediaAttempt  = "media.attempt"
	AttrMediaState    = "media.state"

	// Interruption attributes.
	AttrInterruptSource = "interrupt.source"
	AttrResponseID      = "response.id"

	// Transcript attributes.
	AttrTranscriptSpeaker = "transcript.speaker"
	AttrTranscriptSource  = "transcript.source"

	// Provider attributes.
	AttrSTTProvider = "stt.provider"
	AttrLLMProvider = "llm.provider"
	AttrLLMModel    = "llm.model"

	// Error attributes.
	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
)

// SessionAttrs creates attributes for session information.
func SessionAttrs(sessionID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrSessionID, sessionID),
	}
}

// AudioAttrs creates attributes for audio data.
func AudioAttrs(sampleRate, channels, dataSize int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrAudioSampleRate, sampleRate),
		attribute.Int(AttrAudioChannels, channels),
		attribute.Int(AttrAudioDataSize, dataSize),
	}
}

// MediaAttrs creates attributes for media attachment operations.
func MediaAttrs(streamID string, attempt int, state string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrMediaStreamID, streamID),
		attribute.Int(AttrMediaAttempt, attempt),
		attribute.String(AttrMediaState, state),
	}
}

// InterruptAttrs creates attributes for the barge-in path.
func InterruptAttrs(source, responseID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrInterruptSource, source),
		attribute.String(AttrResponseID, responseID),
	}
}

// LLMAttrs creates attributes for reply generation.
func LLMAttrs(provider, model string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrLLMProvider, provider),
		attribute.String(AttrLLMModel, model),
	}
}

// ErrorAttrs creates attributes for errors.
func ErrorAttrs(errType, errMsg string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrErrorType, errType),
		attribute.String(AttrErrorMessage, errMsg),
	}
}
