package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/solace-ai/solace/pkg/llm"
	"github.com/solace-ai/solace/pkg/server"
	"github.com/solace-ai/solace/pkg/stt"
	"github.com/solace-ai/solace/pkg/trace"
)

func main() {
	godotenv.Load()

	ctx := context.Background()

	if err := trace.Initialize(ctx, trace.DefaultConfig()); err != nil {
		log.Fatalf("tracing init failed: %v", err)
	}
	defer trace.Shutdown(context.Background())

	cfg := server.DefaultConfig()
	if addr := os.Getenv("GATEWAY_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if origin := os.Getenv("ALLOWED_ORIGIN"); origin != "" {
		cfg.AllowedOrigin = origin
	}
	if port := os.Getenv("RTC_UDP_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			log.Fatalf("invalid RTC_UDP_PORT: %v", err)
		}
		cfg.RTCUDPPort = p
	}
	cfg.AvatarAPIKey = os.Getenv("HEYGEN_API_KEY")
	if base := os.Getenv("HEYGEN_BASE_URL"); base != "" {
		cfg.AvatarBaseURL = base
	}

	gateway := server.NewGateway(cfg, buildReplyProvider(ctx), buildSTTProvider())
	if err := gateway.Start(); err != nil {
		log.Fatalf("gateway start failed: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := gateway.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// buildReplyProvider picks the persona reply backend from the
// environment: Gemini when GOOGLE_API_KEY is set, otherwise OpenAI.
func buildReplyProvider(ctx context.Context) llm.ReplyProvider {
	scenario := llm.DefaultScenario()
	prompt := llm.BuildSystemPrompt(scenario)

	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		provider, err := llm.NewGeminiProvider(ctx, llm.GeminiConfig{
			APIKey:       key,
			Model:        os.Getenv("GEMINI_MODEL"),
			SystemPrompt: prompt,
		})
		if err != nil {
			log.Printf("Gemini provider unavailable: %v", err)
			return nil
		}
		return provider
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		provider, err := llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey:       key,
			Model:        os.Getenv("OPENAI_MODEL"),
			SystemPrompt: prompt,
			Streaming:    true,
		})
		if err != nil {
			log.Printf("OpenAI provider unavailable: %v", err)
			return nil
		}
		return provider
	}

	log.Printf("No LLM key configured, reply endpoint disabled")
	return nil
}

// buildSTTProvider picks the transcription backend: Deepgram when a key
// is present, Whisper as fallback.
func buildSTTProvider() stt.Provider {
	if key := os.Getenv("DEEPGRAM_API_KEY"); key != "" {
		provider, err := stt.NewDeepgramProvider(stt.DeepgramConfig{APIKey: key})
		if err != nil {
			log.Printf("Deepgram provider unavailable: %v", err)
			return nil
		}
		return provider
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		provider, err := stt.NewWhisperProvider(key)
		if err != nil {
			log.Printf("Whisper provider unavailable: %v", err)
			return nil
		}
		return provider
	}

	log.Printf("No STT key configured, transcription endpoint disabled")
	return nil
}
