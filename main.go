package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whatsapp-connector/connection"
	"whatsapp-connector/dashboard"
	"whatsapp-connector/events"
	"whatsapp-connector/gateway"
	"whatsapp-connector/store"
	"whatsapp-connector/types"
	"whatsapp-connector/utils"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"
)

const (
	defaultStorePath     = "data/connection.db"
	defaultDashboardAddr = ":8080"
)

func main() {
	_ = godotenv.Load()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
	if os.Getenv("DEBUG") == "1" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	gatewayURL := os.Getenv("GATEWAY_URL")
	userID := os.Getenv("USER_ID")
	if gatewayURL == "" || userID == "" {
		logger.Fatal().Msg("GATEWAY_URL and USER_ID must be set")
	}
	apiKey := os.Getenv("GATEWAY_API_KEY")
	storePath := envOr("STORE_PATH", defaultStorePath)
	dashboardAddr := envOr("DASHBOARD_ADDR", defaultDashboardAddr)

	// The snapshot store lives on local disk; on slow disks or fresh volumes
	// the first open can lose a race with directory creation, so retry.
	var snapStore *store.SQLiteStore
	err := utils.WithRetry(func() error {
		var err error
		snapStore, err = store.OpenSQLite(storePath, userID)
		return err
	}, utils.DefaultRetryConfig())
	if err != nil {
		logger.Fatal().Err(err).Str("path", storePath).Msg("failed to open snapshot store")
	}
	defer snapStore.Close()

	gwOpts := []gateway.Option{}
	if os.Getenv("STATUS_CACHE") == "1" {
		gwOpts = append(gwOpts, gateway.WithStatusCache(16))
	}
	gw := gateway.NewClient(gatewayURL, apiKey, logger, gwOpts...)
	defer gw.Close()

	bus := events.NewDispatcher(16, 4)
	bus.Subscribe(newTerminalRenderer(logger))

	orch := connection.New(connection.DefaultConfig(), gw, snapStore, bus, logger)

	dash := dashboard.New(dashboardAddr, orch, logger)
	dash.Start()

	orch.Start(userID)
	if st := orch.State(); st.Status == types.StatusDisconnected || st.Status == types.StatusUnknown {
		go orch.Connect(context.Background())
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dash.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("dashboard shutdown failed")
	}
	// Close stops loops and persists state; the remote instance stays alive
	// so the session resumes on the next run.
	orch.Close()
	bus.Close()
}

// newTerminalRenderer prints the pairing payload whenever it changes and logs
// every status transition.
func newTerminalRenderer(logger zerolog.Logger) events.Handler {
	var lastCode string
	var lastStatus types.Status

	return func(u types.StateUpdate) {
		if u.Status != lastStatus {
			logger.Info().
				Str("status", u.Status.String()).
				Str("instance", u.InstanceID).
				Str("error", u.ErrorMessage).
				Msg("connection state changed")
			lastStatus = u.Status
		}

		if u.PairingCode != "" && u.PairingCode != lastCode {
			lastCode = u.PairingCode
			renderPairingCode(u.PairingCode)
		}
		if u.PairingCode == "" {
			lastCode = ""
		}
	}
}

func renderPairingCode(code string) {
	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		fmt.Printf("\nPairing code: %s\n\n", code)
		return
	}
	fmt.Printf("\nScan this QR code with the WhatsApp mobile app:\n\n%s\nOr enter the pairing code: %s\n\n",
		qr.ToSmallString(false), code)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
