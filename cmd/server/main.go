package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/orang2bejo/Nakes-Link-sub000/internal/config"
	httpd "github.com/orang2bejo/Nakes-Link-sub000/internal/delivery/http"
	"github.com/orang2bejo/Nakes-Link-sub000/internal/domain"
	"github.com/orang2bejo/Nakes-Link-sub000/internal/gateway"
	"github.com/orang2bejo/Nakes-Link-sub000/internal/repository"
	"github.com/orang2bejo/Nakes-Link-sub000/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	if cfg.Env == "development" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	repo, err := repository.NewSQLiteRepo(cfg.SQLiteDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer repo.Close()

	ledger := usecase.NewLedger(repo, log)

	midtrans := gateway.NewMidtransAdapter(cfg.MidtransBaseURL, cfg.MidtransKey, cfg.AdapterTimeout, log)
	xendit := gateway.NewXenditAdapter(cfg.XenditBaseURL, cfg.XenditKey, cfg.AdapterTimeout, log)
	walletAdapter := gateway.NewWalletAdapter(ledger, log)

	adapters := map[domain.GatewayID]gateway.ProviderAdapter{
		domain.GatewayMidtrans: midtrans,
		domain.GatewayXendit:   xendit,
		domain.GatewayWallet:   walletAdapter,
	}

	registry := gateway.NewRegistry(map[domain.GatewayID]gateway.HealthProbe{
		domain.GatewayMidtrans: midtrans.Healthy,
		domain.GatewayXendit:   xendit.Healthy,
	}, 5*time.Second)
	selector := gateway.NewSelector(registry, cfg.SmallOrderThreshold)

	poller := usecase.NewPoller(cfg.PollInterval, cfg.PollCeiling, log)
	orch := usecase.NewOrchestrator(repo, registry, selector, adapters, poller, cfg.AdapterTimeout, log)

	enabled := make([]domain.GatewayID, 0, len(cfg.EnabledGateways))
	for _, id := range cfg.EnabledGateways {
		enabled = append(enabled, domain.GatewayID(id))
	}

	h := httpd.NewHandler(orch, ledger, registry, enabled, log)
	r := h.Routes(httpd.SigConfig{
		Secret:        cfg.HMACSecret,
		MaxAgeSeconds: cfg.SigMaxAgeSeconds,
	}, cfg.CORSOrigins)

	srv := &http.Server{
		Addr:    ":" + cfg.AppPort,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
	poller.Shutdown()
}
