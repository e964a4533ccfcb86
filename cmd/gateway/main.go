// Command gateway is the Frostfire gateway's process entrypoint.
//
// Startup sequence:
//  1. Parse CLI flags (Cobra: --config, --debug), then load the config
//     file (Viper) with environment variable overrides.
//  2. Build the logger and the gateway Coordinator (registry, session
//     table, reaper, metrics, admin API, dashboard, proxy, WS gateway).
//  3. Start the HTTP listener (admin API + reverse proxy) and the
//     WebSocket listener (control plane), with TLS if configured.
//  4. Block until SIGINT/SIGTERM, then shut down gracefully.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lillious/frostfire-gateway/internal/config"
	"github.com/lillious/frostfire-gateway/internal/gateway"
	"github.com/lillious/frostfire-gateway/internal/logging"
)

// shutdownDrainTimeout bounds how long in-flight requests get to finish
// once a shutdown signal arrives.
const shutdownDrainTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string
	var debug bool

	root := &cobra.Command{
		Use:   "gateway",
		Short: "Frostfire gateway: sticky-session load balancer for game server fleets",
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway's HTTP and WebSocket listeners",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configFile, debug)
		},
	}
	serve.Flags().StringVar(&configFile, "config", "", "path to JSON config file (optional)")
	serve.Flags().BoolVar(&debug, "debug", false, "enable debug-level logging")

	root.AddCommand(serve)
	return root
}

func runServe(configFile string, debug bool) error {
	log := logging.New(debug)

	cfg, err := config.Load(configFile)
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return err
	}

	coord := gateway.New(cfg, log)
	coord.Start()

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      coord.HTTPHandler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE and proxy streams are long-lived.
		IdleTimeout:  120 * time.Second,
	}

	wsSrv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.WSPort),
		Handler:     coord.WSHandler(),
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() { errCh <- listenAndServe(httpSrv, cfg, log, "admin/proxy") }()
	go func() { errCh <- listenAndServe(wsSrv, cfg, log, "control-plane ws") }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("listener failed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownDrainTimeout)
	defer cancel()

	_ = httpSrv.Shutdown(ctx)
	_ = wsSrv.Shutdown(ctx)
	coord.Stop()

	log.Info().Msg("frostfire gateway shut down cleanly")
	return nil
}

// listenAndServe starts srv with TLS if cfg has a loadable cert/key pair,
// falling back to plain with a warning otherwise.
func listenAndServe(srv *http.Server, cfg *config.Config, log zerolog.Logger, name string) error {
	var err error
	tlsOK := false
	if cfg.HasTLS() {
		if _, loadErr := tls.LoadX509KeyPair(cfg.TLS.CertPath, cfg.TLS.KeyPath); loadErr != nil {
			log.Warn().Err(loadErr).Str("listener", name).Msg("TLS cert/key pair not loadable")
		} else {
			tlsOK = true
		}
	}
	if tlsOK {
		log.Info().Str("listener", name).Str("addr", srv.Addr).Msg("listening (TLS)")
		err = srv.ListenAndServeTLS(cfg.TLS.CertPath, cfg.TLS.KeyPath)
	} else {
		log.Warn().Str("listener", name).Str("addr", srv.Addr).Msg("TLS not configured; listening in plaintext")
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
