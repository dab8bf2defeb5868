// captioner: periodic webcam captioning client with a live dashboard.
// Grabs a frame every period, posts it to /api/caption and shows the reply.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-caption/internal/config"
	"github.com/teslashibe/go-caption/internal/log"
	"github.com/teslashibe/go-caption/pkg/captioner"
)

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fatal("Configuration error", err)
	}
	log.Init(cfg.LogLevel)

	app, err := captioner.New(cfg)
	if err != nil {
		fatal("Configuration error", err)
	}
	if err := app.Init(); err != nil {
		fatal("Initialization failed", err)
	}
	defer app.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fmt.Println()
	fmt.Println("📷 Captioner")
	fmt.Printf("   Dashboard: http://localhost%s\n", cfg.Listen)
	fmt.Printf("   Captions:  %s\n", cfg.Endpoint)
	fmt.Println()

	if err := app.Run(ctx); err != nil {
		fatal("Runtime error", err)
	}
}

// parseFlags layers command line flags over the loaded configuration.
func parseFlags() (config.Captioner, error) {
	configPath := flag.String("config", "", "Path to a YAML config file")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	endpoint := flag.String("endpoint", "", "Caption service base URL")
	period := flag.Int("period", 0, "Capture period in milliseconds (minimum 500)")
	prompt := flag.String("prompt", "", "Instruction sent with every frame")
	camera := flag.Int("camera", 0, "Camera device index")
	pattern := flag.Bool("pattern", false, "Use a synthetic test pattern instead of a camera")
	listen := flag.String("listen", "", "Dashboard listen address")
	autostart := flag.Bool("autostart", false, "Start capturing immediately")
	flag.Parse()

	file, err := config.Load(*configPath)
	if err != nil {
		return config.Captioner{}, err
	}
	cfg := file.Captioner

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "endpoint":
			cfg.Endpoint = *endpoint
		case "period":
			cfg.PeriodMs = *period
		case "prompt":
			cfg.Prompt = *prompt
		case "camera":
			cfg.Camera = *camera
		case "pattern":
			cfg.Pattern = *pattern
		case "listen":
			cfg.Listen = *listen
		case "autostart":
			cfg.AutoStart = *autostart
		}
	})
	if *debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "❌ %s: %v\n", msg, err)
	os.Exit(1)
}
