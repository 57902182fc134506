package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/launcher-accounts/accountd/internal/api"
	"github.com/launcher-accounts/accountd/internal/config"
	"github.com/launcher-accounts/accountd/internal/logging"
	"github.com/launcher-accounts/accountd/internal/login"
	"github.com/launcher-accounts/accountd/internal/watcher"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// StartService runs the account daemon until SIGINT or SIGTERM.
func StartService(cfg *config.Config, configPath string) {
	ctx, cancel := commandContext()
	defer cancel()

	if err := runService(ctx, cfg, configPath); err != nil {
		log.Errorf("account service stopped: %v", err)
	}
}

func runService(ctx context.Context, cfg *config.Config, configPath string) error {
	host, rel, err := newServiceHost(cfg)
	if err != nil {
		return err
	}
	rt, err := newAccountManager(ctx, cfg, host)
	if err != nil {
		return err
	}
	defer rt.Close()

	server := api.NewServer(cfg, rt.manager, rel)

	w, err := watcher.NewWatcher(configPath, rt.backend.WatchDir, rt.store, func(newCfg *config.Config) {
		if errLog := logging.ConfigureLogOutput(newCfg); errLog != nil {
			log.WithError(errLog).Warn("failed to apply logging settings")
		}
		rt.controller.SetOptions(login.OptionsFromConfig(newCfg))
		server.UpdateConfig(newCfg)
	})
	if err != nil {
		return err
	}
	w.SetConfig(cfg)
	if err = w.Start(ctx); err != nil {
		log.WithError(err).Warn("file watcher disabled")
	}
	defer func() { _ = w.Stop() }()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		log.Info("shutting down account service")
	case err = <-errCh:
		if err != nil {
			return err
		}
		return errors.New("api server exited unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Stop(shutdownCtx)
}
