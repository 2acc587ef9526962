package cmd

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spigell/recruiter-loop/internal/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background job workers",
	Run: func(_ *cobra.Command, _ []string) {
		serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address, overrides server.addr")
	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}

func serve() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}
	defer logger.Sync()

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the recruiter-loop server", zap.String("version", version))

	stack, err := buildStack(ctx, config, logger)
	if err != nil {
		logger.Fatal("building components", zap.Error(err))
	}
	defer stack.Close()

	if err := stack.startWorkers(ctx); err != nil {
		logger.Fatal("starting job workers", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              config.Server.Addr,
		Handler:           stack.handler(),
		ReadHeaderTimeout: config.Server.ReadTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down http server", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", config.Server.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server stopped", zap.Error(err))
	}
	logger.Info("exiting", zap.String("reason", "shutdown requested"))
}
