package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/marmos91/dittodrive/cmd/dittodrive/commands"
	"github.com/pterm/pterm"
)

func main() {
	// A .env file in the working directory may carry DITTODRIVE_* overrides
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := commands.NewRootCommand().ExecuteContext(ctx); err != nil {
		pterm.Error.Println(err)
		stop()
		os.Exit(1)
	}
}
