package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestNewDeepgramProvider_NoAPIKey(t *testing.T) {
	_, err := NewDeepgramProvider(DeepgramConfig{})
	if err == nil {
		t.Fatal("Expected error when API key is empty")
	}

	sttErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("Expected *Error, got %T", err)
	}
	if sttErr.Code != ErrCodeInvalidConfig {
		t.Errorf("Expected ErrCodeInvalidConfig, got %v", sttErr.Code)
	}
}

func TestNewDeepgramProvider_Defaults(t *testing.T) {
	provider, err := NewDeepgramProvider(DeepgramConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	if provider.Name() != "deepgram" {
		t.Errorf("Expected name 'deepgram', got '%s'", provider.Name())
	}
	if provider.model != deepgramDefaultModel {
		t.Errorf("Expected default model '%s', got '%s'", deepgramDefaultModel, provider.model)
	}
	if !provider.SupportsStreaming() {
		t.Error("Deepgram provider should support streaming")
	}
}

func TestDeepgramProvider_StreamingRecognize_InvalidSampleRate(t *testing.T) {
	provider, err := NewDeepgramProvider(DeepgramConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	_, err = provider.StreamingRecognize(context.Background(), AudioConfig{
		SampleRate: 44100,
		Channels:   1,
	}, RecognitionConfig{})
	if err == nil {
		t.Fatal("Expected error for invalid sample rate")
	}

	sttErr, ok := err.(*Error)
	if ok && sttErr.Code != ErrCodeInvalidConfig {
		t.Errorf("Expected ErrCodeInvalidConfig, got %v", sttErr.Code)
	}
}

// wsTestServer runs handler on an upgraded test connection and returns
// the ws:// URL.
func wsTestServer(t *testing.T, handler func(conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDeepgramStreaming_InterimAndFinal(t *testing.T) {
	wsURL := wsTestServer(t, func(conn *websocket.Conn) {
		// Wait for the first audio chunk, then respond with an interim
		// followed by a final for the same utterance.
		for {
			msgType, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.BinaryMessage {
				continue
			}

			interim, _ := json.Marshal(deepgramResponse{
				Type:    "Results",
				IsFinal: false,
				Channel: deepgramChannel{Alternatives: []deepgramAlternative{
					{Transcript: "how much", Confidence: 0.8},
				}},
			})
			conn.WriteMessage(websocket.TextMessage, interim)

			final, _ := json.Marshal(deepgramResponse{
				Type:     "Results",
				IsFinal:  true,
				Duration: 1.2,
				Channel: deepgramChannel{Alternatives: []deepgramAlternative{
					{Transcript: "how much does it cost", Confidence: 0.95},
				}},
			})
			conn.WriteMessage(websocket.TextMessage, final)
			return
		}
	})

	provider, err := NewDeepgramProvider(DeepgramConfig{APIKey: "test-key", BaseURL: wsURL})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	recognizer, err := provider.StreamingRecognize(ctx, AudioConfig{
		SampleRate: 16000,
		Channels:   1,
		Encoding:   "pcm",
	}, RecognitionConfig{EnableInterimResults: true, Language: "en"})
	if err != nil {
		t.Fatalf("Failed to create streaming recognizer: %v", err)
	}
	defer recognizer.Close()

	if err := recognizer.SendAudio(ctx, make([]byte, 3200)); err != nil {
		t.Fatalf("Failed to send audio: %v", err)
	}

	var interim, final *Result
	for interim == nil || final == nil {
		select {
		case result, ok := <-recognizer.Results():
			if !ok {
				t.Fatal("Results channel closed before both results arrived")
			}
			if result.IsFinal {
				final = result
			} else {
				interim = result
			}
		case <-time.After(3 * time.Second):
			t.Fatal("Timed out waiting for results")
		}
	}

	if interim.Text != "how much" {
		t.Errorf("Unexpected interim text: %q", interim.Text)
	}
	if final.Text != "how much does it cost" {
		t.Errorf("Unexpected final text: %q", final.Text)
	}
	if interim.UtteranceID == "" || interim.UtteranceID != final.UtteranceID {
		t.Errorf("Interim and final should share an utterance id: %q vs %q", interim.UtteranceID, final.UtteranceID)
	}
	if final.Duration != 1200*time.Millisecond {
		t.Errorf("Unexpected final duration: %v", final.Duration)
	}
}

func TestDeepgramStreaming_ServerErrorSurfaced(t *testing.T) {
	wsURL := wsTestServer(t, func(conn *websocket.Conn) {
		msg, _ := json.Marshal(deepgramResponse{
			Type:    "Error",
			Message: "invalid audio",
		})
		conn.WriteMessage(websocket.TextMessage, msg)
		// Keep the connection open; the error alone must be surfaced.
		time.Sleep(2 * time.Second)
	})

	provider, err := NewDeepgramProvider(DeepgramConfig{APIKey: "test-key", BaseURL: wsURL})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	recognizer, err := provider.StreamingRecognize(ctx, AudioConfig{
		SampleRate: 16000,
		Channels:   1,
	}, RecognitionConfig{})
	if err != nil {
		t.Fatalf("Failed to create streaming recognizer: %v", err)
	}
	defer recognizer.Close()

	deadline := time.Now().Add(2 * time.Second)
	for recognizer.Err() == nil && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if recognizer.Err() == nil {
		t.Fatal("Expected stream error to be surfaced")
	}
}

func TestDeepgramStreaming_SendAfterClose(t *testing.T) {
	wsURL := wsTestServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	provider, err := NewDeepgramProvider(DeepgramConfig{APIKey: "test-key", BaseURL: wsURL})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	recognizer, err := provider.StreamingRecognize(context.Background(), AudioConfig{
		SampleRate: 16000,
		Channels:   1,
	}, RecognitionConfig{})
	if err != nil {
		t.Fatalf("Failed to create streaming recognizer: %v", err)
	}

	if err := recognizer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Idempotent.
	if err := recognizer.Close(); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}

	if err := recognizer.SendAudio(context.Background(), []byte{0, 0}); err == nil {
		t.Error("Expected error sending after close")
	}
}
