package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"remindd/internal/access"
	"remindd/internal/api"
	"remindd/internal/config"
	"remindd/internal/dispatch"
	"remindd/internal/notify"
	"remindd/internal/store"
	logx "remindd/pkg/logx"
)

func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatch engine and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *RootOptions) error {
	mgr := config.NewManager(opts.ConfigPath)
	cfg, err := mgr.Load()
	if err != nil {
		return err
	}

	logSvc, log := logx.New(cfg.Logx())
	defer logSvc.Close()
	mgr.SetLogger(log.With(logx.String("component", "config")))

	storeCfg, err := cfg.Store()
	if err != nil {
		return err
	}
	st, err := store.Open(storeCfg, log.With(logx.String("component", "store")))
	if err != nil {
		return err
	}
	defer st.Close()
	cached := store.NewCached(st, 0)

	senderCfg, err := cfg.Sender()
	if err != nil {
		return err
	}
	sender, err := notify.Open(senderCfg, log.With(logx.String("component", "notify")))
	if err != nil {
		return err
	}
	render := notify.NewRenderer(cfg.Notify.SubjectPrefix)

	engCfg, err := cfg.Engine()
	if err != nil {
		return err
	}
	eng := dispatch.New(engCfg, cached, sender, render, log.With(logx.String("component", "dispatch")))
	if err := eng.Start(ctx); err != nil {
		return err
	}

	// Mirror cycle outcomes onto the systemd status line so `systemctl
	// status remindd` shows the last report without touching the API.
	events, unsubEvents := eng.Events().Subscribe(4)
	defer unsubEvents()
	go func() {
		for e := range events {
			switch data := e.Data.(type) {
			case dispatch.CycleEvent:
				_, _ = daemon.SdNotify(false, fmt.Sprintf(
					"STATUS=last cycle at %s: attempted=%d sent=%d failed=%d committed=%d",
					data.Now.Format(time.RFC3339),
					data.Report.Attempted, data.Report.Sent, data.Report.Failed, data.Report.Committed))
			case string:
				if e.Type == dispatch.EventCycleAborted {
					_, _ = daemon.SdNotify(false, "STATUS=last cycle aborted: "+data)
				}
			}
		}
	}()

	handler := api.New(cached, eng, access.NewChecker(cfg.Admins), log.With(logx.String("component", "api")))
	srv := &http.Server{Addr: cfg.ListenAddr(), Handler: handler}

	// Hot reload: logging settings apply live, everything else needs a
	// restart (the engine's timer and the store are wired at startup).
	go func() { _ = mgr.Watch(ctx) }()
	sub := mgr.Subscribe(4)
	defer mgr.Unsubscribe(sub)
	go func() {
		for next := range sub {
			logSvc.Apply(next.Logx())
			log.Info("logging config applied; other sections take effect after restart")
		}
	}()

	go func() {
		<-ctx.Done()
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		eng.Stop(shCtx)
		_ = srv.Shutdown(shCtx)
	}()

	log.Info("listening", logx.String("addr", srv.Addr))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
