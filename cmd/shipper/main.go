package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/alvesdmateus/shipper/internal/cli/commands"
)

func main() {
	// Replaced once settings are loaded
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.Execute(ctx, os.Environ()); err != nil {
		log.Error().Err(err).Msg("shipper failed")
		stop()
		os.Exit(1)
	}
}
