package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"autoheal/config"
	"autoheal/control"
	"autoheal/logging"
	"autoheal/models"
	"autoheal/monitor"
	"autoheal/state"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	configPath string
	logLevel   string
	controlURL string
)

func main() {
	logging.SetupBaseLogger()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		logging.Close()
		os.Exit(1)
	}
	logging.Close()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "autoheal",
		Short: "Autonomous remediation for a hosted web application",
		Long: `autoheal probes a web application on a fixed interval. When the
application is down it asks an AI provider for a diagnosis and, when
allowed, opens a pull request carrying the fix.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "autoheal.yaml", "path to the YAML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(newServeCmd(), newProbeCmd(), newHealCmd(), newStatusCmd(), newShowCmd(), newDrainCmd())
	return root
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	if err := logging.Configure(level, cfg.LogFile); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the monitor and the control server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			app, err := NewApp(cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)

			app.Announce(onlineMessage(cfg))
			app.monitor.Start(ctx)
			g.Go(func() error {
				<-ctx.Done()
				app.monitor.Stop()
				app.monitor.Wait()
				return nil
			})

			if cfg.ControlAddr != "" {
				server := app.ControlServer(ctx)
				g.Go(func() error {
					if err := server.Run(ctx, cfg.ControlAddr); err != nil {
						return fmt.Errorf("control server: %w", err)
					}
					return nil
				})
			}

			log.Info("autoheal ready")
			err = g.Wait()
			log.Info("shutting down")
			return err
		},
	}
}

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Probe the target once and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			mon := monitor.New(monitor.Options{
				URL:     cfg.Target.URL,
				Timeout: cfg.ProbeTimeout(),
			}, state.New(state.Options{}), nil)

			result := mon.ProbeOnce(cmd.Context())
			printProbe(cfg.Target.URL, result)
			if !result.Reachable {
				return errors.New("target is down")
			}
			return nil
		},
	}
}

func newHealCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "heal",
		Short: "Ask a running autoheal to remediate now",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := control.NewClient(controlAddr(), 10*time.Minute)
			rec, err := client.Heal(cmd.Context())
			if err != nil {
				return err
			}
			printRecord(*rec)
			return nil
		},
	}
	cmd.Flags().StringVar(&controlURL, "addr", "", "control server address (default from config)")
	return cmd
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running autoheal",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := control.NewClient(controlAddr(), 10*time.Second)
			status, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(status)
			return nil
		},
	}
	cmd.Flags().StringVar(&controlURL, "addr", "", "control server address (default from config)")
	return cmd
}

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one remediation run of a running autoheal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := control.NewClient(controlAddr(), 10*time.Second)
			rec, err := client.Record(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printRecord(*rec)
			return nil
		},
	}
	cmd.Flags().StringVar(&controlURL, "addr", "", "control server address (default from config)")
	return cmd
}

func newDrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Take the queued diagnoses awaiting manual action",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := control.NewClient(controlAddr(), 10*time.Second)
			fixes, err := client.DrainQueue(cmd.Context())
			if err != nil {
				return err
			}
			if len(fixes) == 0 {
				fmt.Println("Fix queue is empty")
				return nil
			}
			for i, d := range fixes {
				fmt.Printf("%d. [%s] %s\n", i+1, severityColor(d.Severity), d.RootCause)
				if d.Fix != nil {
					fmt.Printf("   Fix: %d change(s) in %s\n", len(d.Fix.Changes), d.Fix.File)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&controlURL, "addr", "", "control server address (default from config)")
	return cmd
}

// controlAddr prefers --addr, then the config file, then the default
func controlAddr() string {
	if controlURL != "" {
		return controlURL
	}
	if cfg, err := config.Load(configPath); err == nil && cfg.ControlAddr != "" {
		return cfg.ControlAddr
	}
	return config.Default().ControlAddr
}

func printProbe(url string, result models.HealthCheckResult) {
	if result.Reachable {
		fmt.Printf("%s %s (%s)\n", color.GreenString("UP  "), url, result.Describe())
		return
	}
	fmt.Printf("%s %s (%s)\n", color.RedString("DOWN"), url, result.Describe())
}

func printRecord(rec models.RemediationRecord) {
	status := string(rec.Status)
	switch {
	case rec.Status.Failed():
		status = color.RedString(status)
	case rec.Status == models.StatusMerged || rec.Status == models.StatusAwaitingReview:
		status = color.GreenString(status)
	default:
		status = color.YellowString(status)
	}

	fmt.Printf("Run %s: %s (%s)\n", rec.ID, status, rec.Duration.Round(time.Millisecond))
	if rec.Diagnosis != nil {
		fmt.Printf("  Root cause: %s\n", rec.Diagnosis.RootCause)
		fmt.Printf("  Severity:   %s\n", severityColor(rec.Diagnosis.Severity))
	}
	if rec.PullRequest != nil {
		fmt.Printf("  Pull request: %s\n", rec.PullRequest.URL)
	}
	if rec.FailedStep != "" {
		fmt.Printf("  Failed at %s\n", rec.FailedStep)
	}
	if rec.Reason != "" {
		fmt.Printf("  %s\n", rec.Reason)
	}
}

func severityColor(s models.Severity) string {
	switch {
	case s.AtLeast(models.SeverityCritical):
		return color.RedString(string(s))
	case s.AtLeast(models.SeverityHigh):
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}

func printStatus(s *control.StatusResponse) {
	bold := color.New(color.Bold).SprintFunc()
	onOff := func(b bool) string {
		if b {
			return color.GreenString("on")
		}
		return color.YellowString("off")
	}

	fmt.Println(bold("autoheal status"))
	fmt.Println(strings.Repeat("-", 40))
	fmt.Printf("Target:       %s\n", s.Target)
	fmt.Printf("Monitoring:   %s\n", onOff(s.State.MonitoringActive))
	fmt.Printf("Auto-fix:     %s\n", onOff(s.State.AutoFixEnabled))
	fmt.Printf("Auto-deploy:  %s\n", onOff(s.State.AutoDeployEnabled))
	fmt.Printf("In flight:    %v\n", s.InFlight)
	if s.State.LastCheck != nil {
		fmt.Printf("Last check:   %s at %s\n", s.State.LastCheck.Describe(), s.State.LastCheck.Timestamp.Format(time.RFC3339))
	}
	fmt.Printf("Failures:     %d recorded, %d fixes queued\n", len(s.State.ErrorHistory), len(s.State.FixQueue))

	providers := make([]string, 0, len(s.Providers))
	for _, p := range s.Providers {
		if p.Enabled {
			providers = append(providers, p.Name)
		} else {
			providers = append(providers, p.Name+" (no key)")
		}
	}
	fmt.Printf("Providers:    %s\n", strings.Join(providers, ", "))
	fmt.Printf("Runs:         %d total, %d PRs, %d merged, %d failed\n",
		s.Stats.Total, s.Stats.PRsOpened, s.Stats.Merged, s.Stats.Failed)
}
