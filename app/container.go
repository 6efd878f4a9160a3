package app

import (
	"fmt"
	"image"
	"log/slog"

	"github.com/soocke/pixel-cast-go/config"
	"github.com/soocke/pixel-cast-go/domain/capture"
	"github.com/soocke/pixel-cast-go/domain/sender"
	"github.com/soocke/pixel-cast-go/domain/source"
	"github.com/soocke/pixel-cast-go/domain/transmit"
)

// Container assembles the transport, capture and sender services.
type Container struct {
	Config    *config.Config
	Logger    *slog.Logger
	Server    *transmit.Server
	Readback  *capture.AsyncReadback
	Converter *capture.Converter
	Screen    *capture.Screen
	Sender    *sender.Sender

	// Next produces the source image for frame n; nil when the config
	// selects no source (screen fetch only).
	Next func(n uint64) *image.RGBA
}

// BuildContainer constructs all components. Side-effects limited to loading
// the source image when one is configured.
func BuildContainer(cfg *config.Config, logger *slog.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger}
	srv, err := transmit.NewServer(logger.With("component", "transmit"), transmit.ServerOptions{
		Compress:     cfg.Compress,
		WriteTimeout: cfg.WriteTimeout(),
	})
	if err != nil {
		return nil, err
	}
	c.Server = srv
	c.Readback = capture.NewAsyncReadback(logger.With("component", "readback"), 0)
	c.Converter = capture.NewConverter()
	c.Screen = &capture.Screen{MaxWidth: cfg.ScreenMaxWidth}

	next, err := buildSource(cfg)
	if err != nil {
		_ = srv.Close()
		return nil, err
	}
	c.Next = next

	c.Sender = sender.NewSender(sender.Options{
		Logger:       logger.With("component", "sender"),
		Settings:     cfg.SenderSettings(),
		Interval:     cfg.FrameInterval(),
		Transmitters: StreamFactory(srv),
		Backend:      c.Readback,
		Encoder:      c.Converter,
		Screen:       c.Screen,
	})
	return c, nil
}

// StreamFactory opens sender transmitters as streams on srv.
func StreamFactory(srv *transmit.Server) sender.TransmitterFactory {
	return func(name string) (sender.Transmitter, error) {
		st, err := srv.Open(name)
		if err != nil {
			// Returning st directly would hand the sender a non-nil
			// interface holding a nil pointer.
			return nil, err
		}
		return st, nil
	}
}

func buildSource(cfg *config.Config) (func(uint64) *image.RGBA, error) {
	switch cfg.Source {
	case "none":
		return nil, nil
	case "pattern":
		return source.DefaultPattern(cfg.SourceWidth, cfg.SourceHeight).Render, nil
	default:
		img, err := source.LoadFile(cfg.Source, cfg.SourceWidth, cfg.SourceHeight)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		return source.Still(img), nil
	}
}
