package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// A local .env is optional; real environment variables win.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pixel-cast",
		Short: "Stream rendered frames to network receivers",
		Long: `pixel-cast captures a source image every cycle, reads it back into
pooled frame buffers and sends the buffers to receivers connected over
WebSocket.`,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newReceiveCmd())
	return root
}
