// caption-server: HTTP captioning service backed by an Ollama vision model.
// Accepts frames on POST /api/caption and archives every caption.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-caption/internal/config"
	"github.com/teslashibe/go-caption/internal/log"
	"github.com/teslashibe/go-caption/pkg/archive"
	"github.com/teslashibe/go-caption/pkg/metrics"
	"github.com/teslashibe/go-caption/pkg/ollama"
	"github.com/teslashibe/go-caption/pkg/server"
)

var version = "1.0.0"

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fatal("Configuration error", err)
	}
	log.Init(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		fatal("Configuration error", err)
	}

	backend, err := ollama.NewClient(cfg.OllamaURL,
		ollama.WithModel(cfg.Model),
		ollama.WithTimeout(cfg.Timeout))
	if err != nil {
		fatal("Ollama client", err)
	}

	store, err := archive.New(cfg.ImagesDir(), cfg.HistoryPath())
	if err != nil {
		fatal("Archive", err)
	}

	srv, err := server.New(server.Config{
		Addr:     cfg.Listen,
		Backend:  backend,
		Archive:  store,
		Registry: metrics.NewRegistry(),
	})
	if err != nil {
		fatal("Server", err)
	}

	fmt.Println()
	fmt.Println("🖼️  Caption Server v" + version)
	fmt.Printf("   Ollama:  %s (%s)\n", backend.URL(), backend.Model())
	fmt.Printf("   History: %s\n", store.HistoryPath())
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := backend.Ping(ctx); err != nil {
		log.Warn("ollama not reachable yet", "url", backend.URL(), "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		return srv.Shutdown()
	})
	if err := g.Wait(); err != nil {
		fatal("Runtime error", err)
	}
}

// parseFlags layers command line flags over the loaded configuration.
func parseFlags() (config.Server, error) {
	configPath := flag.String("config", "", "Path to a YAML config file")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	listen := flag.String("listen", "", "HTTP listen address")
	ollamaURL := flag.String("ollama", "", "Ollama generate URL")
	model := flag.String("model", "", "Vision model name")
	dataDir := flag.String("data-dir", "", "Directory for saved_images/ and saved_captions/")
	flag.Parse()

	file, err := config.Load(*configPath)
	if err != nil {
		return config.Server{}, err
	}
	cfg := file.Server

	if *listen != "" {
		cfg.Listen = *listen
	}
	if *ollamaURL != "" {
		cfg.OllamaURL = *ollamaURL
	}
	if *model != "" {
		cfg.Model = *model
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "❌ %s: %v\n", msg, err)
	os.Exit(1)
}
