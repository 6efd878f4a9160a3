package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/soocke/pixel-cast-go/app"
	"github.com/soocke/pixel-cast-go/config"
)

func newServeCmd() *cobra.Command {
	var (
		cfgPath string
		watch   bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sender and serve its stream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfgPath == "" {
				cfgPath = config.DefaultPath()
			}
			v := config.NewViper(cfgPath)
			for key, flag := range map[string]string{
				"listen_addr":    "listen",
				"stream_name":    "stream",
				"log_level":      "log-level",
				"debug":          "debug",
				"keep_alpha":     "alpha",
				"rgba_channel":   "rgba",
				"send_on_thread": "send-on-thread",
				"fetch_screen":   "fetch-screen",
				"source":         "source",
				"compress":       "compress",
			} {
				if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
					return err
				}
			}
			cfg, err := config.LoadViper(v)
			if err != nil {
				return err
			}
			logger := NewLogger(ParseLevel(cfg.LogLevel))
			logger.Info("config loaded", "path", cfgPath, "stream", cfg.StreamName, "source", cfg.Source)

			var watched *viper.Viper
			if watch {
				watched = v
			}
			a, err := app.NewApp(cfg, watched, logger)
			if err != nil {
				return err
			}
			return a.Run(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.StringVarP(&cfgPath, "config", "c", "", "config file (default is $XDG_CONFIG_HOME/pixel-cast/config.json)")
	f.BoolVar(&watch, "watch", true, "reload the config file when it changes")
	f.String("listen", "", "HTTP listen address")
	f.String("stream", "", "stream name")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.Bool("debug", false, "log runtime and memory stats")
	f.Bool("alpha", false, "keep the alpha channel")
	f.Bool("rgba", false, "send packed RGBA/RGBX instead of planar UYVY")
	f.Bool("send-on-thread", false, "send frames from a dedicated worker")
	f.Bool("fetch-screen", false, "send the screen when the source is unchanged")
	f.String("source", "", `"pattern", "none" or an image path`)
	f.Bool("compress", false, "zstd-compress frames on the wire")
	return cmd
}
