// permitwatch watches a CAPTCHA-gated booking portal for newly opened
// exam slots and notifies the configured channels when they appear.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"permitwatch/internal/browser"
	"permitwatch/internal/captcha"
	"permitwatch/internal/history"
	"permitwatch/internal/monitor"
	"permitwatch/internal/notify"
	"permitwatch/internal/poller"
	"permitwatch/internal/session"
	"permitwatch/pkg/config"
	"permitwatch/pkg/slots"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgPath  string
		noNotify bool
		headed   bool
	)

	cmd := &cobra.Command{
		Use:           "permitwatch",
		Short:         "Watch the exam booking portal for newly opened slots",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgPath, noNotify, headed)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file")
	cmd.PersistentFlags().BoolVar(&noNotify, "no-notify", false, "disable all notification channels")
	cmd.Flags().BoolVar(&headed, "headed", false, "run the browser with a visible window")

	cmd.AddCommand(newNotifyTestCmd(&cfgPath))
	return cmd
}

// newNotifyTestCmd exercises the configured channels with sample slots
// so operators can verify delivery before leaving the watcher running
func newNotifyTestCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "notify-test",
		Short: "Send a test notification through every configured channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}

			sample := []slots.Slot{
				{Date: "01/08/2026", Hour: "09:30", Location: "Centre d'examen de Paris", ExamType: "conduite", Places: 2},
				{Date: "02/08/2026", Hour: "14:00", Location: "Centre d'examen de Lyon", ExamType: "conduite", Places: 1},
			}

			d := notify.NewDispatcher(buildChannels(cfg, false), logger)
			if d.Channels() == 0 {
				return fmt.Errorf("no notification channels configured")
			}
			for _, res := range d.Dispatch(cmd.Context(), sample) {
				logger.Info("channel result",
					zap.String("channel", res.Channel),
					zap.Bool("success", res.Success),
					zap.String("detail", res.Detail))
			}
			return nil
		},
	}
}

func run(cfgPath string, noNotify, headed bool) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if headed {
		cfg.Headless = false
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("=== starting watcher ===")

	// Phase 1: authenticate on the direct network identity. The login
	// CAPTCHA passes far more reliably without the proxy in the path.
	page, err := newHarness(ctx, cfg, "", logger)
	if err != nil {
		return err
	}
	current := session.Page(page)
	defer func() {
		if current != nil {
			current.Close()
		}
	}()

	solver := captcha.NewSolver(cfg.Solver.APIKey, logger)
	mgr := session.NewManager(solver, session.NewStdinConfirmer(), logger)

	sess, err := mgr.Authenticate(ctx, current, cfg.Credentials)
	if err != nil {
		// Authentication-phase failures are fatal to startup: they
		// usually mean bad credentials or a structural site change,
		// which no retry fixes.
		return fmt.Errorf("login failed: %w", err)
	}

	// Phase 2: optionally relocate the session onto the monitoring
	// identity. A failed transfer costs a full re-authentication; a
	// degraded session is never kept.
	if cfg.Proxy.Enabled() {
		current, sess, err = relocate(ctx, cfg, mgr, current, sess, logger)
		if err != nil {
			return err
		}
	}

	// Phase 3: the poll loop.
	if !monitor.LocateListing(current, logger) {
		logger.Info("continuing on current page", zap.String("url", sess.CurrentURL))
	}

	var channels []notify.Channel
	if noNotify {
		logger.Info("notifications disabled (--no-notify)")
	} else {
		channels = buildChannels(cfg, noNotify)
	}

	m := monitor.New(
		poller.New(current, logger),
		notify.NewDispatcher(channels, logger),
		history.NewStore(cfg.HistoryFile, logger),
		cfg.Interval(),
		cfg.Backoff(),
		logger,
	)

	if err := m.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("👋 surveillance stopped")
			return nil
		}
		return err
	}
	return nil
}

// relocate moves the session behind the proxy, re-authenticating once
// from scratch if the transferred session turns out to be dead
func relocate(ctx context.Context, cfg *config.Config, mgr *session.Manager, current session.Page, sess *session.Session, logger *zap.Logger) (session.Page, *session.Session, error) {
	factory := func(ctx context.Context) (session.Page, error) {
		return newHarness(ctx, cfg, proxyEndpoint(cfg.Proxy), logger)
	}
	sw := session.NewSwitcher(factory, logger)

	moved, freshSess, err := sw.Relocate(ctx, current, sess)
	if err == nil {
		return moved, freshSess, nil
	}
	if !errors.Is(err, session.ErrSessionTransfer) {
		return nil, nil, err
	}

	logger.Warn("session lost in transfer, re-authenticating from scratch", zap.Error(err))
	page, err := newHarness(ctx, cfg, "", logger)
	if err != nil {
		return nil, nil, err
	}
	sess, err = mgr.Authenticate(ctx, page, cfg.Credentials)
	if err != nil {
		page.Close()
		return nil, nil, fmt.Errorf("re-authentication failed: %w", err)
	}
	moved, freshSess, err = sw.Relocate(ctx, page, sess)
	if err != nil {
		return nil, nil, err
	}
	return moved, freshSess, nil
}

func newHarness(ctx context.Context, cfg *config.Config, proxy string, logger *zap.Logger) (*browser.Harness, error) {
	return browser.New(ctx, browser.Options{
		ProxyServer: proxy,
		Headless:    cfg.Headless,
		SnapshotDir: cfg.SnapshotDir,
	}, logger)
}

// proxyEndpoint renders the proxy in the form Chrome accepts, with
// credentials embedded when present
func proxyEndpoint(p config.Proxy) string {
	if p.Username != "" {
		return fmt.Sprintf("%s:%s@%s", p.Username, p.Password, p.Server())
	}
	return p.Server()
}

func buildChannels(cfg *config.Config, noNotify bool) []notify.Channel {
	if noNotify {
		return nil
	}
	var channels []notify.Channel
	if cfg.Notifications.Email.Enabled {
		channels = append(channels, notify.NewEmailChannel(cfg.Notifications.Email))
	}
	if cfg.Notifications.Telegram.Enabled {
		channels = append(channels, notify.NewTelegramChannel(cfg.Notifications.Telegram))
	}
	if cfg.Notifications.Webhook.Enabled {
		channels = append(channels, notify.NewWebhookChannel(cfg.Notifications.Webhook))
	}
	return channels
}
