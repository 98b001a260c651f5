package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/JohanCodinha/reportsync/internal/background"
	"github.com/JohanCodinha/reportsync/internal/control"
	"github.com/JohanCodinha/reportsync/internal/logger"
	"github.com/JohanCodinha/reportsync/internal/platform"
	"github.com/JohanCodinha/reportsync/internal/remote"
	"github.com/JohanCodinha/reportsync/internal/sync"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync service and its local control API",
		Long: `Run reportsync as a long-lived service. Connectivity changes and session
updates arrive on the control API; queued reports sync automatically the
first time the service sees the network, and again whenever it comes back.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, root, !offline)
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "start with the host marked offline")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions, online bool) error {
	local := platform.NewLocal(online)
	a, err := openApp(root, local)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.engine.Recover(ctx, sync.StaleClaimAge); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	go recoverLoop(ctx, a.engine, sync.StaleClaimAge)

	a.engine.Subscribe(sync.ListenerFunc(func(r sync.Result) {
		logger.Info("serve: %s", formatResult(r))
	}))

	channel := background.NewChannel(a.sessions, configSource(root), a.engine)
	trigger := background.NewTrigger(local)
	trigger.Listen(channel)
	defer trigger.Close()
	local.MarkReady()

	auto := background.NewAutoSync(a.engine, a.sessions)
	unwatch := auto.Watch(ctx, a.monitor)
	defer unwatch()
	go auto.Evaluate(ctx, a.monitor.Online(ctx))

	refresher := background.NewRefresher(channel, a.cfg.Background.RefreshInterval)
	go refresher.Run(ctx)

	srv := control.NewServer(control.Deps{
		Engine:   a.engine,
		Queue:    a.store,
		Monitor:  a.monitor,
		Switch:   local,
		Channel:  channel,
		Trigger:  trigger,
		Sessions: a.sessions,
	})
	err = srv.ListenAndServe(ctx, a.cfg.Background.ListenAddr)
	if errors.Is(err, context.Canceled) {
		logger.Info("serve: shutting down")
		return nil
	}
	return err
}

// recoverLoop periodically releases claims abandoned by a crashed process
// sharing the queue, since a fresh claim is left alone at startup.
func recoverLoop(ctx context.Context, engine *sync.Engine, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := engine.Recover(ctx, sync.StaleClaimAge); err != nil {
				logger.Warn("serve: %v", err)
			}
		}
	}
}

// configSource rereads the config file so edited credentials reach the running service.
func configSource(root *rootOptions) background.SessionSource {
	return background.SessionSourceFunc(func(ctx context.Context) (remote.Session, error) {
		cfg, err := loadConfig(root)
		if err != nil {
			return remote.Session{}, err
		}
		return remote.Session{
			URL:       cfg.Backend.URL,
			APIKey:    cfg.Backend.APIKey,
			AuthToken: cfg.Backend.AuthToken,
			UserID:    cfg.Backend.UserID,
		}, nil
	})
}
