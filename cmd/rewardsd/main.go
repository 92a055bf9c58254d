// Package main runs the rewards core server: the ledger, referral,
// membership, and dividend engines behind a REST API.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Meridian-Network/rewards_core/internal/app/runtime"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	configPath := flag.String("config", "", "Path to level table YAML (overrides REWARDS_CONFIG)")
	envFile := flag.String("env-file", "", "Optional .env file to load before startup")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			log.Fatalf("Failed to load env file %s: %v", *envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	if *addr != "" {
		os.Setenv("HTTP_ADDR", *addr)
	}
	if *configPath != "" {
		os.Setenv("REWARDS_CONFIG", *configPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := runtime.NewApplication(ctx)
	if err != nil {
		log.Fatalf("Failed to initialise application: %v", err)
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	if err := app.Run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetPrefix("[rewardsd] ")
}
