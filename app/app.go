package app

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/viper"

	"github.com/soocke/pixel-cast-go/config"
	"github.com/soocke/pixel-cast-go/debug"
	"github.com/soocke/pixel-cast-go/domain/source"
)

const (
	shutdownTimeout = 5 * time.Second
	debugLogEvery   = 10 * time.Second
)

// App runs the sender and serves its streams over HTTP.
type App struct {
	c     *Container
	watch *viper.Viper // config source reloaded on file changes; nil disables
}

// NewApp builds the container for cfg. When watch is non-nil its config file
// is watched and reloaded through it, so bound flags and env still apply.
func NewApp(cfg *config.Config, watch *viper.Viper, logger *slog.Logger) (*App, error) {
	c, err := BuildContainer(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &App{c: c, watch: watch}, nil
}

// Container exposes the assembled services.
func (a *App) Container() *Container { return a.c }

// Run serves until ctx is cancelled, then tears the sender down before the
// transport.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.c.Config.ListenAddr)
	if err != nil {
		_ = a.c.Server.Close()
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	logger := a.c.Logger
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.c.Config.Debug {
		debug.StartGoroutineLogger(ctx, debugLogEvery, logger.With("component", "debug"))
		debug.StartMemLogger(ctx, debugLogEvery, logger.With("component", "debug"))
	}

	httpSrv := &http.Server{Handler: a.c.Server.Handler(), ReadHeaderTimeout: 5 * time.Second}
	serveErr := make(chan error, 1)
	go func() { serveErr <- httpSrv.Serve(ln) }()
	logger.Info("listening", "addr", ln.Addr().String(), "stream", a.c.Config.StreamName)

	if a.c.Next != nil {
		p := &source.Producer{Sink: a.c.Sender, Interval: a.c.Config.FrameInterval(), Next: a.c.Next}
		go p.Run(ctx)
	}
	a.c.Sender.Activate(true)

	if a.watch != nil {
		if w, err := config.NewWatcher(a.watch, logger, a.applyConfig); err != nil {
			logger.Warn("config watch disabled", "path", a.watch.ConfigFileUsed(), "err", err)
		} else {
			go w.Run(ctx)
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	a.c.Sender.Close()
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	if err := a.c.Server.Close(); err != nil {
		logger.Warn("transmit close", "err", err)
	}
	st := a.c.Sender.Stats()
	logger.Info("stopped", "sent", st.Sent, "discarded", st.Discarded, "cycles", st.Cycles)
	return runErr
}

// applyConfig pushes reloadable settings to the running sender. Transport
// and source changes take effect on the next start.
func (a *App) applyConfig(cfg *config.Config) {
	old := a.c.Config
	if cfg.ListenAddr != old.ListenAddr || cfg.Compress != old.Compress ||
		cfg.Source != old.Source || cfg.ScreenMaxWidth != old.ScreenMaxWidth {
		a.c.Logger.Warn("config change needs restart", "listen_addr", cfg.ListenAddr, "source", cfg.Source)
	}
	a.c.Sender.Apply(cfg.SenderSettings())
	a.c.Config = cfg
}
