// cmd/server/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/apiweld/apiweld/internal/api"
	"github.com/apiweld/apiweld/internal/datastore"
	"github.com/apiweld/apiweld/internal/docs"
	"github.com/apiweld/apiweld/internal/httpcall"
	"github.com/apiweld/apiweld/internal/llm"
	"github.com/apiweld/apiweld/internal/queue"
	"github.com/apiweld/apiweld/internal/service"
	"github.com/apiweld/apiweld/internal/synth"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func main() {
	// Server flags; environment variables fill the defaults.
	addr := flag.String("addr", ":"+getenv("PORT", "8080"), "Server address")
	authToken := flag.String("auth-token", getenv("AUTH_TOKEN", ""), "Bearer token required on API requests (empty to disable)")
	corsOrigins := flag.String("cors-origins", getenv("WEB_ORIGINS", ""), "Comma-separated list of allowed CORS origins (empty to disable)")

	// Datastore flags
	storeDriver := flag.String("datastore", getenv("DATASTORE_TYPE", "memory"), "Datastore driver: memory, file, redis")
	storeDir := flag.String("storage-dir", getenv("STORAGE_DIR", ""), "Storage directory (file driver)")
	redisHost := flag.String("redis-host", getenv("REDIS_HOST", ""), "Redis host")
	redisPort := flag.Int("redis-port", getenvInt("REDIS_PORT", 6379), "Redis port")
	redisUser := flag.String("redis-username", getenv("REDIS_USERNAME", ""), "Redis username")
	redisPassword := flag.String("redis-password", getenv("REDIS_PASSWORD", ""), "Redis password")

	// LLM flags
	provider := flag.String("llm-provider", getenv("LLM_PROVIDER", llm.ProviderOpenAI), "LLM provider: openai, openrouter")
	openaiKey := flag.String("openai-api-key", getenv("OPENAI_API_KEY", ""), "OpenAI API key")
	openaiBase := flag.String("openai-base-url", getenv("OPENAI_BASE_URL", ""), "OpenAI base URL override")
	openrouterKey := flag.String("openrouter-api-key", getenv("OPENROUTER_API_KEY", ""), "OpenRouter API key")
	openrouterBase := flag.String("openrouter-base-url", getenv("OPENROUTER_BASE_URL", ""), "OpenRouter base URL override")
	model := flag.String("model", getenv("DEFAULT_MODEL", "gpt-5"), "Default completion model")
	schemaModel := flag.String("schema-model", getenv("SCHEMA_MODEL", ""), "Schema-generation model (defaults to the completion model)")

	flag.Parse()

	ctx := context.Background()

	// Initialize datastore
	store, err := datastore.New(ctx, datastore.Config{
		Driver:        *storeDriver,
		Dir:           *storeDir,
		RedisHost:     *redisHost,
		RedisPort:     *redisPort,
		RedisUsername: *redisUser,
		RedisPassword: *redisPassword,
	})
	if err != nil {
		log.Fatalf("Failed to initialize datastore: %v", err)
	}
	defer store.Close()

	// Initialize LLM client
	llmCfg := llm.Config{
		Provider:    *provider,
		Model:       *model,
		SchemaModel: *schemaModel,
	}
	switch *provider {
	case llm.ProviderOpenRouter:
		llmCfg.APIKey = *openrouterKey
		llmCfg.BaseURL = *openrouterBase
		llmCfg.Referer = getenv("OPENROUTER_REFERER", "https://github.com/apiweld/apiweld")
		llmCfg.Title = getenv("OPENROUTER_TITLE", "apiweld")
	default:
		llmCfg.APIKey = *openaiKey
		llmCfg.BaseURL = *openaiBase
	}
	if llmCfg.APIKey == "" {
		log.Fatalf("No API key configured for provider %s", *provider)
	}
	client := llm.New(llmCfg)

	// Create service
	svc := service.New(store, synth.New(client, docs.NewFetcher()), httpcall.New(), queue.New())

	// Create handlers
	handlers := api.NewHandlers(svc)

	// Set health check to verify datastore connectivity
	handlers.SetHealthCheck(func() error {
		_, err := store.ListRuns(context.Background(), datastore.ListOpts{Limit: 1})
		return err
	})

	// Setup router
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Minute))
	r.Use(api.RequestID)
	r.Use(api.MaxBodySize)

	// CORS (if enabled)
	if *corsOrigins != "" {
		origins := strings.Split(*corsOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		r.Use(api.CORSMiddleware(origins))
	}

	// Auth
	r.Use(api.Auth(*authToken))

	// Routes
	handlers.Routes(r)

	// Create server
	srv := &http.Server{
		Addr:         *addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool)
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}

		close(done)
	}()

	// Start server
	log.Printf("Starting server on %s (datastore=%s, provider=%s, model=%s)", *addr, *storeDriver, *provider, *model)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	<-done
	fmt.Println("Server stopped")
}
