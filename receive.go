package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/soocke/pixel-cast-go/domain/readback"
	"github.com/soocke/pixel-cast-go/domain/transmit"
)

func newReceiveCmd() *cobra.Command {
	var (
		count    int
		logLevel string
	)
	cmd := &cobra.Command{
		Use:   "receive <ws-url>",
		Short: "Connect to a stream and log the frames it delivers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := NewLogger(ParseLevel(logLevel))
			cl, err := transmit.Dial(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("receive: %w", err)
			}
			go func() {
				<-cmd.Context().Done()
				_ = cl.Close()
			}()
			return receiveFrames(cl, count, logger)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "stop after n frames (0 runs until interrupted)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
	return cmd
}

// frameSource is satisfied by *transmit.Client.
type frameSource interface {
	ReadFrame() (readback.Frame, error)
	Close() error
}

func receiveFrames(cl frameSource, count int, logger *slog.Logger) error {
	var (
		received int
		bytes    uint64
		lastSeq  uint64
		start    = time.Now()
	)
	defer func() { _ = cl.Close() }()
	for count <= 0 || received < count {
		f, err := cl.ReadFrame()
		if err != nil {
			if received > 0 {
				logger.Info("receive ended", "frames", received, "err", err)
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		if received > 0 && f.Sequence != lastSeq+1 {
			logger.Debug("sequence gap", "prev", lastSeq, "seq", f.Sequence)
		}
		lastSeq = f.Sequence
		received++
		bytes += uint64(len(f.Data))
		logger.Info("frame",
			"seq", f.Sequence,
			"fourcc", f.FourCC.String(),
			"size", fmt.Sprintf("%dx%d", f.Width, f.Height),
			"bytes", humanize.IBytes(uint64(len(f.Data))),
			"metadata", f.MetadataString(),
		)
	}
	elapsed := time.Since(start)
	logger.Info("receive done",
		"frames", received,
		"total", humanize.IBytes(bytes),
		"elapsed", elapsed.Round(time.Millisecond).String(),
	)
	return nil
}
