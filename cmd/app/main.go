package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"essim_battery/internal/app"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		bootstrap.ConfigPath = path
	}
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Close()
	cfg := bootstrap.Config

	// 2. Pprof Server (for performance profiling)
	if addr := cfg.Monitor.PprofAddr; addr != "" {
		go func() {
			slog.Info("🕵️ Pprof server started", slog.String("addr", addr))
			if err := http.ListenAndServe(addr, nil); err != nil {
				slog.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	}

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Monitor (WebSocket + metrics)
	if bootstrap.Monitor != nil {
		go func() {
			if err := bootstrap.Monitor.Serve(ctx, cfg.Monitor.ListenAddr); err != nil {
				slog.Error("Monitor server failed", slog.Any("error", err))
			}
		}()
	}

	// 5. Controller loop (single goroutine)
	done := make(chan struct{})
	go func() {
		bootstrap.Controller.Run(ctx)
		close(done)
	}()
	slog.InfoContext(ctx, "✅ Controller started")

	// 6. Broker connection
	if err := bootstrap.Transport.Connect(ctx); err != nil {
		slog.Error("❌ MQTT connection aborted", slog.Any("error", err))
		<-done
		return
	}
	defer bootstrap.Transport.Disconnect()

	slog.InfoContext(ctx, "✨ Battery node fully operational. Press Ctrl+C to exit.",
		slog.String("node", cfg.ESSIM.ModelID))

	// Wait for shutdown signal
	<-ctx.Done()

	slog.Info("👋 Shutting down gracefully...")
	<-done
}
