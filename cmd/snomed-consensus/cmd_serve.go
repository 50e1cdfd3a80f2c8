package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joelkehle/snomed-consensus/internal/httpapi"
)

var (
	serveAddr string
	servePDF  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the normalization HTTP API",
	Long: `Starts the HTTP API:
  POST /v1/normalize  run the consensus pipeline on {"note_text": "..."}
  GET  /v1/health     terminology status
  GET  /v1/usage      oracle call counters and remaining quota`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().BoolVar(&servePDF, "pdf", false, "enable format=pdf through a local Chromium")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.store.Load(); err != nil {
		logger.Error("terminology unavailable", zap.Error(err))
	} else {
		st := a.store.Stats()
		logger.Info("terminology loaded",
			zap.String("source", st.Source),
			zap.Int("concepts", st.Concepts),
			zap.Int("labels", st.Labels),
			zap.Int("relationships", st.Relationships))
	}

	hc := httpapi.Config{
		Normalizer:     a.pipeline,
		Terminology:    a.store,
		Logger:         logger.Named("http"),
		RequestTimeout: 2 * cfg.Consensus.RunTimeout,
	}
	if a.limiter != nil {
		hc.Usage = a.limiter
	}
	if servePDF {
		hc.PDF = cfg.PDFRenderer()
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpapi.NewServer(hc),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("snomed-consensus listening", zap.String("addr", cfg.Server.Addr), zap.String("provider", cfg.Oracle.Provider))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
