package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dennisdiepolder/dispatchdesk/internal/callgen"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// CLI flags
	var (
		port        = flag.String("port", "8081", "Control API and telephony socket port")
		callsPerMin = flag.Float64("calls-per-min", 6, "Calls rung per minute")
		autoStart   = flag.Bool("auto-start", false, "Start ringing calls immediately")
		logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	// Setup logger
	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	logger := log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Str("service", "callsim").
		Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broadcaster := callgen.NewBroadcaster(logger)
	gen := callgen.NewGenerator(callgen.Config{CallsPerMin: *callsPerMin}, broadcaster, logger)
	api := callgen.NewAPI(ctx, gen, broadcaster, logger)

	go func() {
		if err := api.Serve(ctx, ":"+*port); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("control API stopped")
		}
	}()

	if *autoStart {
		if err := api.Start(); err != nil {
			logger.Error().Err(err).Msg("failed to auto-start call generation")
		}
	}

	logger.Info().
		Str("control_api", fmt.Sprintf("http://localhost:%s", *port)).
		Str("telephony_ws", fmt.Sprintf("ws://localhost:%s/ws", *port)).
		Msg("CallSim ready")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutting down CallSim")
	cancel()
	time.Sleep(500 * time.Millisecond)
}
