// Deepgram streaming speech-to-text provider.
//
// Streams 16kHz mono PCM over a WebSocket and receives interim and
// final transcripts. The initial connection is retried with exponential
// backoff; once the stream is live, socket failures are surfaced to the
// caller instead of being retried, so the session controller can decide
// whether to fall back.

package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	deepgramWSURL = "wss://api.deepgram.com/v1/listen"

	deepgramDefaultModel = "nova-2"

	// Deepgram streaming accepts linear16 at the declared sample rate;
	// the pipeline standardizes on 16kHz mono.
	deepgramRequiredSampleRate = 16000

	deepgramMaxRetryAttempts  = 3
	deepgramInitialRetryDelay = 1 * time.Second
	deepgramMaxRetryDelay     = 4 * time.Second
	deepgramConnectionTimeout = 10 * time.Second

	// Deepgram closes idle streams after ~10s without audio.
	deepgramKeepAliveInterval = 5 * time.Second
)

// DeepgramProvider implements Provider using the Deepgram live
// transcription API.
type DeepgramProvider struct {
	apiKey  string
	model   string
	baseURL string
	mu      sync.RWMutex
}

// DeepgramConfig holds configuration for DeepgramProvider.
type DeepgramConfig struct {
	// APIKey is the Deepgram API key (required).
	APIKey string

	// Model to use (default: "nova-2").
	Model string

	// BaseURL overrides the WebSocket endpoint. Used by the gateway
	// proxy and by tests.
	BaseURL string
}

// NewDeepgramProvider creates a new Deepgram streaming provider.
func NewDeepgramProvider(config DeepgramConfig) (*DeepgramProvider, error) {
	if config.APIKey == "" {
		return nil, &Error{
			Code:    ErrCodeInvalidConfig,
			Message: "Deepgram API key is required",
		}
	}

	model := config.Model
	if model == "" {
		model = deepgramDefaultModel
	}
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = deepgramWSURL
	}

	return &DeepgramProvider{
		apiKey:  config.APIKey,
		model:   model,
		baseURL: baseURL,
	}, nil
}

// Name returns the provider name.
func (p *DeepgramProvider) Name() string {
	return "deepgram"
}

// Recognize transcribes a complete buffered segment by streaming it and
// waiting for the final result.
func (p *DeepgramProvider) Recognize(ctx context.Context, audio io.Reader, audioConfig AudioConfig, config RecognitionConfig) (*Result, error) {
	audioData, err := io.ReadAll(audio)
	if err != nil {
		return nil, &Error{
			Code:    ErrCodeInvalidAudio,
			Message: "failed to read audio data",
			Err:     err,
		}
	}
	if len(audioData) == 0 {
		return nil, &Error{
			Code:    ErrCodeInvalidAudio,
			Message: "audio data is empty",
		}
	}

	recognizer, err := p.StreamingRecognize(ctx, audioConfig, config)
	if err != nil {
		return nil, err
	}
	defer recognizer.Close()

	if err := recognizer.SendAudio(ctx, audioData); err != nil {
		return nil, err
	}
	if dr, ok := recognizer.(*deepgramStreamingRecognizer); ok {
		dr.closeStream()
	}

	timeout := time.After(30 * time.Second)
	var final *Result
	for {
		select {
		case result, ok := <-recognizer.Results():
			if !ok {
				goto done
			}
			if result.IsFinal {
				final = result
				goto done
			}
		case <-timeout:
			goto done
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

done:
	if final == nil {
		return &Result{
			Text:       "",
			IsFinal:    true,
			Confidence: -1,
			Timestamp:  time.Now(),
		}, nil
	}
	return final, nil
}

// StreamingRecognize creates a streaming recognizer for continuous
// audio input.
func (p *DeepgramProvider) StreamingRecognize(ctx context.Context, audioConfig AudioConfig, config RecognitionConfig) (StreamingRecognizer, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if audioConfig.SampleRate != deepgramRequiredSampleRate {
		return nil, &Error{
			Code:    ErrCodeInvalidConfig,
			Message: fmt.Sprintf("Deepgram streaming requires %dHz sample rate, got %dHz", deepgramRequiredSampleRate, audioConfig.SampleRate),
		}
	}

	recognizer := &deepgramStreamingRecognizer{
		provider:    p,
		audioConfig: audioConfig,
		config:      config,
		resultsChan: make(chan *Result, 10),
		sendChan:    make(chan []byte, 100),
		utteranceID: uuid.NewString(),
	}

	if err := recognizer.connect(ctx); err != nil {
		return nil, err
	}

	return recognizer, nil
}

// SupportsStreaming indicates native streaming support.
func (p *DeepgramProvider) SupportsStreaming() bool {
	return true
}

// Close releases resources held by the provider.
func (p *DeepgramProvider) Close() error {
	return nil
}

// deepgramStreamingRecognizer implements StreamingRecognizer over one
// Deepgram live WebSocket.
type deepgramStreamingRecognizer struct {
	provider    *DeepgramProvider
	audioConfig AudioConfig
	config      RecognitionConfig
	resultsChan chan *Result
	sendChan    chan []byte
	conn        *websocket.Conn
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	mu          sync.Mutex
	closed      atomic.Bool
	startTime   time.Time

	utteranceID string

	errMu     sync.Mutex
	streamErr error
}

// Deepgram live API message shapes.
type deepgramResponse struct {
	Type        string          `json:"type"`
	IsFinal     bool            `json:"is_final"`
	SpeechFinal bool            `json:"speech_final"`
	Duration    float64         `json:"duration"`
	Channel     deepgramChannel `json:"channel"`
	Description string          `json:"description,omitempty"`
	Message     string          `json:"message,omitempty"`
}

type deepgramChannel struct {
	Alternatives []deepgramAlternative `json:"alternatives"`
}

type deepgramAlternative struct {
	Transcript string  `json:"transcript"`
	Confidence float32 `json:"confidence"`
}

type deepgramControl struct {
	Type string `json:"type"`
}

// connect establishes the WebSocket with retry and backoff.
func (r *deepgramStreamingRecognizer) connect(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.startTime = time.Now()

	var lastErr error
	retryDelay := deepgramInitialRetryDelay

	for attempt := 0; attempt < deepgramMaxRetryAttempts; attempt++ {
		if err := r.doConnect(); err != nil {
			lastErr = err
			log.Printf("[Deepgram] Connection attempt %d/%d failed: %v", attempt+1, deepgramMaxRetryAttempts, err)

			if attempt < deepgramMaxRetryAttempts-1 {
				select {
				case <-time.After(retryDelay):
					retryDelay *= 2
					if retryDelay > deepgramMaxRetryDelay {
						retryDelay = deepgramMaxRetryDelay
					}
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			continue
		}
		return nil
	}

	return &Error{
		Code:    ErrCodeNetworkError,
		Message: fmt.Sprintf("failed to connect after %d attempts", deepgramMaxRetryAttempts),
		Err:     lastErr,
	}
}

// doConnect performs the actual WebSocket dial.
func (r *deepgramStreamingRecognizer) doConnect() error {
	params := url.Values{}
	params.Set("model", r.provider.model)
	params.Set("encoding", "linear16")
	params.Set("sample_rate", fmt.Sprintf("%d", r.audioConfig.SampleRate))
	params.Set("channels", fmt.Sprintf("%d", max(1, r.audioConfig.Channels)))
	params.Set("punctuate", "true")
	if r.config.EnableInterimResults {
		params.Set("interim_results", "true")
	}
	if r.config.Language != "" && r.config.Language != "auto" {
		params.Set("language", r.config.Language)
	}

	wsURL := fmt.Sprintf("%s?%s", r.provider.baseURL, params.Encode())
	log.Printf("[Deepgram] Connecting to %s", wsURL)

	dialer := websocket.Dialer{
		HandshakeTimeout: deepgramConnectionTimeout,
	}
	headers := map[string][]string{
		"Authorization": {"Token " + r.provider.apiKey},
	}

	conn, _, err := dialer.DialContext(r.ctx, wsURL, headers)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
	log.Printf("[Deepgram] WebSocket connected")

	r.wg.Add(2)
	go r.readLoop()
	go r.writeLoop()

	return nil
}

// readLoop handles incoming transcript messages.
func (r *deepgramStreamingRecognizer) readLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		_, message, err := r.conn.ReadMessage()
		if err != nil {
			if !r.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[Deepgram] WebSocket read error: %v", err)
				r.setStreamErr(&Error{
					Code:    ErrCodeNetworkError,
					Message: "transcription stream failed",
					Err:     err,
				})
			}
			return
		}

		r.handleMessage(message)
	}
}

// writeLoop sends audio and periodic keepalives.
func (r *deepgramStreamingRecognizer) writeLoop() {
	defer r.wg.Done()

	keepAlive := time.NewTicker(deepgramKeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return

		case audioData, ok := <-r.sendChan:
			if !ok {
				return
			}
			r.writeMessage(websocket.BinaryMessage, audioData)

		case <-keepAlive.C:
			data, _ := json.Marshal(deepgramControl{Type: "KeepAlive"})
			r.writeMessage(websocket.TextMessage, data)
		}
	}
}

func (r *deepgramStreamingRecognizer) writeMessage(messageType int, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return
	}
	if err := r.conn.WriteMessage(messageType, data); err != nil {
		log.Printf("[Deepgram] Failed to send message: %v", err)
	}
}

// closeStream asks the server to flush and finalize pending audio.
func (r *deepgramStreamingRecognizer) closeStream() {
	data, _ := json.Marshal(deepgramControl{Type: "CloseStream"})
	r.writeMessage(websocket.TextMessage, data)
}

// handleMessage processes one incoming JSON message.
func (r *deepgramStreamingRecognizer) handleMessage(data []byte) {
	var msg deepgramResponse
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("[Deepgram] Failed to parse message: %v", err)
		return
	}

	switch msg.Type {
	case "Results":
		if len(msg.Channel.Alternatives) == 0 {
			return
		}
		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return
		}

		result := &Result{
			UtteranceID: r.utteranceID,
			Text:        alt.Transcript,
			IsFinal:     msg.IsFinal,
			Confidence:  alt.Confidence,
			Duration:    time.Duration(msg.Duration * float64(time.Second)),
			Timestamp:   time.Now(),
		}

		if msg.IsFinal {
			log.Printf("[Deepgram] Final: %s", alt.Transcript)
			r.utteranceID = uuid.NewString()
		} else {
			log.Printf("[Deepgram] Interim: %s", alt.Transcript)
		}

		select {
		case r.resultsChan <- result:
		case <-r.ctx.Done():
		default:
			log.Printf("[Deepgram] Results channel full, dropping result")
		}

	case "UtteranceEnd", "SpeechStarted", "Metadata":
		// Informational; turn boundaries come from local VAD.

	case "Error":
		log.Printf("[Deepgram] Server error: %s %s", msg.Description, msg.Message)
		r.setStreamErr(&Error{
			Code:    ErrCodeProviderError,
			Message: "Deepgram server error: " + msg.Message,
		})

	default:
		log.Printf("[Deepgram] Unknown message type: %s", msg.Type)
	}
}

func (r *deepgramStreamingRecognizer) setStreamErr(err error) {
	r.errMu.Lock()
	if r.streamErr == nil {
		r.streamErr = err
	}
	r.errMu.Unlock()
}

// SendAudio queues PCM audio for transmission.
func (r *deepgramStreamingRecognizer) SendAudio(ctx context.Context, audioData []byte) error {
	if r.closed.Load() {
		return &Error{
			Code:    ErrCodeProviderError,
			Message: "recognizer is closed",
		}
	}

	select {
	case r.sendChan <- audioData:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return r.ctx.Err()
	}
}

// Results returns the result channel.
func (r *deepgramStreamingRecognizer) Results() <-chan *Result {
	return r.resultsChan
}

// Err returns the terminal stream error, if any.
func (r *deepgramStreamingRecognizer) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.streamErr
}

// Close stops recognition and releases resources.
func (r *deepgramStreamingRecognizer) Close() error {
	if r.closed.Swap(true) {
		return nil
	}

	log.Printf("[Deepgram] Closing recognizer")

	r.closeStream()

	if r.cancel != nil {
		r.cancel()
	}

	r.mu.Lock()
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
	r.mu.Unlock()

	close(r.sendChan)
	r.wg.Wait()
	close(r.resultsChan)

	log.Printf("[Deepgram] Recognizer closed")
	return nil
}

var _ StreamingRecognizer = (*deepgramStreamingRecognizer)(nil)
