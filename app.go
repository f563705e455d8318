package main

import (
	"context"
	"fmt"
	"time"

	"autoheal/ai"
	"autoheal/config"
	"autoheal/control"
	"autoheal/github"
	"autoheal/memory"
	"autoheal/monitor"
	"autoheal/notify"
	"autoheal/remediation"
	"autoheal/state"

	log "github.com/sirupsen/logrus"
)

// App holds the wired components of a running autoheal process
type App struct {
	cfg          *config.Config
	state        *state.State
	orchestrator *ai.Orchestrator
	store        *memory.Store
	notifier     *notify.Async
	pipeline     *remediation.Pipeline
	monitor      *monitor.HealthMonitor
}

// NewApp wires every component from cfg
func NewApp(cfg *config.Config) (*App, error) {
	st := state.New(state.Options{
		AutoFixEnabled:    cfg.AutoFix,
		AutoDeployEnabled: cfg.AutoDeploy,
		OwnerChannelID:    cfg.OwnerChannelID,
		HistoryCap:        cfg.History.Cap,
		HistoryMaxAge:     cfg.HistoryMaxAge(),
	})

	entries, err := ai.EntriesFromConfig(cfg.Providers)
	if err != nil {
		return nil, err
	}
	orchestrator := ai.NewOrchestrator(entries)
	for _, p := range orchestrator.Providers() {
		log.WithFields(log.Fields{"provider": p.Name, "enabled": p.Enabled}).Info("AI provider configured")
	}

	analyzer := ai.NewAnalyzer(orchestrator, ai.AppContext{
		Name:          cfg.App.Name,
		Stack:         cfg.App.Stack,
		Repository:    cfg.GitHub.Repo,
		DefaultBranch: cfg.GitHub.DefaultBranch,
		Notes:         cfg.App.Notes,
	})

	var publisher remediation.FixPublisher
	if cfg.GitHubEnabled() {
		client, err := github.NewClient(cfg.GitHub.APIBase, cfg.GitHub.Token, cfg.GitHub.Repo, cfg.GitHubTimeout())
		if err != nil {
			return nil, err
		}
		publisher = remediation.NewPublisher(client, st, remediation.PublisherConfig{
			DefaultBranch: cfg.GitHub.DefaultBranch,
			RequireMatch:  cfg.RequireExactMatch(),
		})
	} else {
		log.Warn("GitHub is not configured; diagnoses will be queued, never published")
	}

	var sender notify.Notifier = notify.LogNotifier{}
	if cfg.Telegram.Token != "" {
		tg, err := notify.NewTelegram(cfg.Telegram.APIBase, cfg.Telegram.Token)
		if err != nil {
			return nil, err
		}
		sender = tg
	} else {
		log.Info("Telegram is not configured; notifications go to the log")
	}
	notifier := notify.NewAsync(sender, 15*time.Second, 64)

	store := memory.NewStore(cfg.MemoryFile)

	pipeline := remediation.NewPipeline(remediation.Deps{
		Analyzer:  analyzer,
		Publisher: publisher,
		State:     st,
		Announcer: notifier,
		Recorder:  store,
	})

	mon := monitor.New(monitor.Options{
		URL:      cfg.Target.URL,
		Interval: cfg.ProbeInterval(),
		Timeout:  cfg.ProbeTimeout(),
	}, st, pipeline)

	return &App{
		cfg:          cfg,
		state:        st,
		orchestrator: orchestrator,
		store:        store,
		notifier:     notifier,
		pipeline:     pipeline,
		monitor:      mon,
	}, nil
}

// ControlServer builds the operator HTTP surface bound to ctx
func (a *App) ControlServer(ctx context.Context) *control.Server {
	return control.NewServer(ctx, control.Deps{
		State:     a.state,
		Healer:    a.pipeline,
		Scheduler: a.monitor,
		History:   a.store,
		Providers: a.orchestrator,
		TargetURL: a.cfg.Target.URL,
	})
}

// Announce sends an owner notification
func (a *App) Announce(text string) {
	a.notifier.Notify(a.state.OwnerChannelID(), text, notify.FormatMarkdown)
}

// Close flushes pending notifications and logs the run summary
func (a *App) Close() {
	a.notifier.Close()
	a.store.PrintSummary()
}

func onlineMessage(cfg *config.Config) string {
	mode := "auto-fix off"
	if cfg.AutoFix {
		mode = "auto-fix on"
		if cfg.AutoDeploy {
			mode += ", auto-deploy on"
		}
	}
	return fmt.Sprintf("🟢 *autoheal online*\nMonitoring %s every %s (%s)", cfg.Target.URL, cfg.ProbeInterval(), mode)
}
