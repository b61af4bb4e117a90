package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/mp-harvester/internal/config"
	"github.com/jonathan/mp-harvester/internal/ratelimit"
	"github.com/jonathan/mp-harvester/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local worker API",
	Long: `Serves the engine over HTTP so other processes can run searches without their
own login. When JWT_SECRET is set every route but /health requires a bearer
token minted with "mpharvest token".`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		cfg, err := serverConfig(a)
		if err != nil {
			return err
		}
		a.logger.Info("worker API listening",
			zap.String("addr", cfg.Addr),
			zap.Bool("auth", cfg.JWT != nil),
		)
		return server.New(a.engine, a.sessions, a.cache, cfg).Start(ctx)
	})
}

func serverConfig(a *app) (server.Config, error) {
	cfg := server.Config{
		Addr:      a.cfg.Server.Addr,
		RateLimit: ratelimit.DefaultConfig(a.cfg.Server.RateLimit),
		Logger:    a.logger.Named("server"),
	}
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}
	if os.Getenv("JWT_SECRET") != "" {
		jwtCfg, err := config.NewJWTConfig()
		if err != nil {
			return server.Config{}, err
		}
		cfg.JWT = jwtCfg
	}
	return cfg, nil
}
