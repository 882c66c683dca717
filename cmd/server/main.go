package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	citas "inmotech-citas"
)

func main() {
	cfg, err := citas.LoadConfig(".")
	if err != nil {
		citas.Logger().Error("config_load_failed", "err", err)
		os.Exit(1)
	}
	citas.ConfigureLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogDest)
	log := citas.Logger()

	store, err := citas.NewStorage(cfg.DBDSN)
	if err != nil {
		log.Error("storage_init_failed", "err", err, "dsn", cfg.DBDSN)
		os.Exit(1)
	}
	citas.SetAuditRepository(store)

	estados, err := citas.NewEstadoCache(store)
	if err != nil {
		log.Error("estado_cache_init_failed", "err", err)
		os.Exit(1)
	}

	ws := citas.NewWSManager()
	go ws.Run()

	authSvc := citas.NewAuthService(store, cfg.JWTSecret, time.Duration(cfg.JWTTTLHours)*time.Hour, log)
	citaSvc := citas.NewCitaService(store, estados, ws, log)
	notifSvc := citas.NewNotificacionService(store, ws, log)

	api := citas.NewAPI(cfg, store, citaSvc, notifSvc, authSvc, ws)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("server_listening", "addr", cfg.Addr(), "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server_failed", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("server_shutting_down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("server_shutdown_error", "err", err)
	}
	ws.Stop()
	log.Info("server_stopped")
}
