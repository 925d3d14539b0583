package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Beereal295/echo-memory/internal/config"
	"github.com/Beereal295/echo-memory/internal/engine"
	"github.com/Beereal295/echo-memory/internal/llm"
	"github.com/Beereal295/echo-memory/internal/server"
	"github.com/Beereal295/echo-memory/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, eng, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	configureEmbedder(db, eng, cfg)

	// Backfill vectors for memories embedded under an older model.
	if eng.Embedder != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if n, err := eng.EmbedMissing(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "embed missing: %v\n", err)
			} else if n > 0 {
				fmt.Fprintf(os.Stderr, "  embedded %d missing memories\n", n)
			}
		}()
	}

	eng.StartTimers()
	defer eng.Stop()

	srv := server.New(db, eng, VersionString())
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Fprintf(os.Stderr, "echo-memory serving on %s\n", addr)
		fmt.Fprintf(os.Stderr, "  db: %s\n", db.Path)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}()

	<-done
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}

// openEngine opens the configured database and builds an engine over
// it. A missing judge is downgraded to a warning: the engine still
// runs on rule scores.
func openEngine(cfg config.Config) (*store.DB, *engine.Engine, error) {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, nil, fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	judge, err := llm.NewClient(cfg.LLM)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: judge not configured (%v), running on rule scores\n", err)
		judge = nil
	} else {
		fmt.Fprintf(os.Stderr, "  judge: %s (%s)\n", cfg.LLM.Provider, cfg.LLM.Model)
	}

	return db, engine.New(db, judge, cfg), nil
}

// configureEmbedder probes for Ollama and falls back to TF-IDF.
func configureEmbedder(db *store.DB, eng *engine.Engine, cfg config.Config) {
	ollamaURL := cfg.LLM.OllamaURL
	if ollamaURL == "" {
		ollamaURL = "http://localhost:11434"
	}
	embedModel := cfg.LLM.EmbedModel
	if embedModel == "" {
		embedModel = "nomic-embed-text"
	}

	if engine.ProbeOllama(ollamaURL, embedModel) {
		eng.SetEmbedder(engine.NewOllamaEmbedder(ollamaURL, embedModel, 768))
		fmt.Fprintf(os.Stderr, "  embedder: ollama (%s)\n", embedModel)
		return
	}

	emb, err := engine.NewTFIDFEmbedder(db, 512)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: tfidf embedder init failed: %v\n", err)
		return
	}
	eng.SetEmbedder(emb)
	fmt.Fprintln(os.Stderr, "  embedder: tfidf (fallback)")
}
