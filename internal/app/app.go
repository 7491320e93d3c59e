// Package app wires configuration, logging, the run journal and the
// pipeline into a process that either runs once or serves a schedule.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"newspush/internal/config"
	"newspush/internal/digest"
	"newspush/internal/failure"
	"newspush/internal/httpclient"
	"newspush/internal/pipeline"
	"newspush/internal/publish"
	"newspush/internal/render"
	"newspush/internal/scheduler"
	"newspush/internal/storage"
	"newspush/internal/wechat"
	logx "newspush/pkg/logx"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
)

// Options come from the command line.
type Options struct {
	ConfigPath string
	EnvPath    string
	// Once forces a single run even when a schedule is configured.
	Once bool
	// Lookup overrides the environment; nil means os.LookupEnv.
	Lookup config.LookupFunc
}

type App struct {
	opt  Options
	cfgm *config.Manager

	logs  *logx.Service
	log   logx.Logger
	store storage.Store

	mu     sync.Mutex
	runner *pipeline.Runner
	cfg    *config.Config
}

// New loads configuration and opens logging and storage. Every error is a
// failure.KindConfig error.
func New(opt Options) (*App, error) {
	if err := config.LoadEnvFile(opt.EnvPath); err != nil {
		return nil, err
	}
	cfgm := config.NewManager(opt.ConfigPath, opt.Lookup)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLogConfig(cfg), nil)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{opt: opt, cfgm: cfgm, logs: logs, log: log.With(logx.String("comp", "app"))}
	a.log.Info("config loaded",
		logx.String("path", cfgm.Path()),
		logx.String("mode", cfg.Delivery.Mode),
		logx.Bool("scheduled", cfg.Scheduled()),
	)

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		_ = logs.Close()
		return nil, failure.New(failure.KindConfig, "storage", err)
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logs.Close()
			return nil, failure.New(failure.KindConfig, "open storage", err)
		}
		a.store = st
		a.log.Info("run journal enabled", logx.String("driver", sc.Driver))
	}

	a.apply(cfg)
	return a, nil
}

// Run runs once or serves the schedule and returns the process exit code.
func (a *App) Run(ctx context.Context) int {
	defer a.Close()
	cfg := a.config()
	if a.opt.Once || !cfg.Scheduled() {
		out, err := a.RunOnce(ctx)
		return ExitCode(out, err)
	}
	if err := a.Serve(ctx); err != nil {
		a.log.Error("serve failed", logx.Err(err))
		return ExitFailure
	}
	return ExitOK
}

// RunOnce performs one pipeline run with the current config.
func (a *App) RunOnce(ctx context.Context) (pipeline.Outcome, error) {
	return a.currentRunner().Run(ctx)
}

// Serve triggers runs on the configured schedule until ctx ends. Config
// file edits are applied to later runs.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.config()
	sched := scheduler.New(func(ctx context.Context) {
		out, err := a.RunOnce(ctx)
		notifyStatus(a.log, statusLine(out, err))
	}, a.log.With(logx.String("comp", "scheduler")))

	if err := sched.Start(ctx, cfg.Scheduler.Schedule, cfg.Location()); err != nil {
		return failure.New(failure.KindConfig, "start scheduler", err)
	}

	updates := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(updates)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = a.cfgm.Watch(ctx)
	}()

	notify(a.log, daemon.SdNotifyReady)
	notifyStatus(a.log, "waiting; next run "+sched.Next().Format(time.RFC3339))

	for {
		select {
		case <-ctx.Done():
			notify(a.log, daemon.SdNotifyStopping)
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			sched.Stop(stopCtx)
			cancel()
			wg.Wait()
			return nil
		case next, ok := <-updates:
			if !ok {
				continue
			}
			a.reload(next, sched)
		}
	}
}

// Close releases the journal and flushes logs.
func (a *App) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("run journal close failed", logx.Err(err))
		}
		a.store = nil
	}
	if a.logs != nil {
		_ = a.logs.Close()
		a.logs = nil
	}
}

func (a *App) reload(next *config.Config, sched *scheduler.Service) {
	prev := a.config()
	if !sameStorage(prev, next) {
		a.log.Warn("storage changes take effect after restart")
	}
	a.logs.Apply(mapLogConfig(next))

	if !next.Scheduled() {
		a.log.Warn("schedule removed from config; keeping the previous one until restart")
	} else if err := sched.Reschedule(next.Scheduler.Schedule, next.Location()); err != nil {
		a.log.Warn("schedule change rejected", logx.Err(err))
	}
	a.apply(next)
}

// apply builds the pipeline for cfg and makes it current.
func (a *App) apply(cfg *config.Config) {
	r := buildRunner(cfg, a.store, a.logs.Logger())
	a.mu.Lock()
	a.cfg = cfg
	a.runner = r
	a.mu.Unlock()
}

func (a *App) config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

func (a *App) currentRunner() *pipeline.Runner {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runner
}

func buildRunner(cfg *config.Config, store storage.Store, log logx.Logger) *pipeline.Runner {
	hc := httpclient.NewRestyClient(cfg.HTTPTimeout())
	loc := cfg.Location()

	source := digest.NewFetcher(hc, cfg.Source.URL, log.With(logx.String("comp", "digest")))
	client := wechat.NewClient(hc, cfg.WeChat.BaseURL, wechat.Credentials{
		AppID:     cfg.WeChat.AppID,
		AppSecret: cfg.WeChat.AppSecret,
	}, log.With(logx.String("comp", "wechat")))

	ropt := render.Options{
		TitlePrefix:      cfg.Render.TitlePrefix,
		Banner:           cfg.Render.Banner,
		Footer:           cfg.Render.Footer,
		DigestText:       cfg.Render.Digest,
		ContentSourceURL: cfg.Render.ContentSourceURL,
		Truncate: render.Truncate{
			Enabled:      cfg.Render.Truncate.Enabled,
			MaxItems:     cfg.Render.Truncate.MaxItems,
			MaxItemRunes: cfg.Render.Truncate.MaxItemRunes,
		},
		Location: loc,
	}
	if cfg.Render.ShowCoverPic != nil {
		ropt.ShowCoverPic = *cfg.Render.ShowCoverPic
	}

	publog := log.With(logx.String("comp", "publish"))
	var delivery pipeline.Delivery
	switch cfg.Delivery.Mode {
	case config.ModeText:
		delivery = pipeline.TextDelivery{
			Renderer:   render.New(ropt),
			Publisher:  publish.NewTextPublisher(client, cfg.Delivery.Strict, publog),
			Recipients: cfg.Delivery.Recipients,
		}
	default:
		if len(cfg.Delivery.Recipients) > 0 {
			ropt.ThumbMediaID = cfg.Delivery.Recipients[0]
		}
		toAll := cfg.Delivery.ToAll == nil || *cfg.Delivery.ToAll
		delivery = pipeline.ArticleDelivery{
			Renderer: render.New(ropt),
			Publisher: publish.NewArticlePublisher(client, wechat.MassSendOptions{
				ToAll:         toAll,
				TagID:         cfg.Delivery.TagID,
				IgnoreReprint: cfg.Delivery.IgnoreReprint,
			}, publog),
		}
	}

	deps := pipeline.Deps{
		Source:     source,
		Tokens:     client,
		Delivery:   delivery,
		OncePerDay: cfg.Delivery.OncePerDay,
		Location:   loc,
		Log:        log.With(logx.String("comp", "pipeline")),
	}
	// A nil Store must stay a nil interface.
	if store != nil {
		deps.Journal = store
	}
	return pipeline.New(deps)
}

// ExitCode maps a run result to the process exit code.
func ExitCode(out pipeline.Outcome, err error) int {
	if err != nil || out.State == pipeline.Failed {
		return ExitFailure
	}
	return ExitOK
}

func statusLine(out pipeline.Outcome, err error) string {
	if out.Skipped {
		return "last run skipped (already delivered today)"
	}
	if err != nil {
		return fmt.Sprintf("last run failed at %s: %s", out.FailedAt, failure.KindOf(err))
	}
	return fmt.Sprintf("last run ok: %d items, %d delivered, %d failed",
		out.Items, out.Report.Delivered(), out.Report.Failed())
}

func notifyStatus(log logx.Logger, status string) {
	notify(log, "STATUS="+status)
}

// notify is a no-op outside systemd.
func notify(log logx.Logger, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		log.Debug("sd_notify failed", logx.String("state", strings.SplitN(state, "=", 2)[0]), logx.Err(err))
	}
}

func sameStorage(a, b *config.Config) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Storage == nil || b.Storage == nil {
		return a.Storage == b.Storage
	}
	return *a.Storage == *b.Storage
}
