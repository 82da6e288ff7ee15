// Mind Sprite - a companion chat service with proactive care
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mindsprite/mindsprite/internal/api"
	"github.com/mindsprite/mindsprite/internal/config"
	"github.com/mindsprite/mindsprite/internal/core"
	"github.com/mindsprite/mindsprite/internal/logging"
	"github.com/mindsprite/mindsprite/internal/scheduler"
)

var (
	configPath string
	dataDir    string

	version = "0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mindsprite",
		Short: "Mind Sprite - a companion that remembers to check in",
		Long: `Mind Sprite wraps a hosted chat model with persistent history,
emotion tagging, intimacy levels, and scheduled follow-up care messages.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <data-dir>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default ~/.mindsprite)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(purgeCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setDataDirEnv(dir string) error {
	return os.Setenv(config.EnvPrefix+"_DATA_DIR", dir)
}

// serveCmd runs the HTTP server and the maintenance jobs
func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background maintenance",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer logging.Sync()
			if port > 0 {
				cfg.Server.Port = port
			}

			a, err := openApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			jobs := scheduler.NewScheduler(scheduler.DefaultConfig())
			if err := scheduler.RegisterMaintenance(jobs, a.orch.Care(), a.cache, cfg.Care); err != nil {
				return err
			}

			server := api.New(api.Config{
				Addr:             cfg.Server.Addr(),
				AllowedOrigins:   cfg.Server.AllowedOrigins,
				CarePollInterval: cfg.Server.CarePollInterval,
				Version:          version,
				Orchestrator:     a.orch,
				DB:               a.db,
				Scheduler:        jobs,
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := jobs.Start(); err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(server.Start)
			g.Go(func() error {
				<-gctx.Done()
				logging.Info("shutting down")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				jobs.Stop()
				return server.Shutdown(shutdownCtx)
			})

			fmt.Printf("Mind Sprite listening on http://%s\n", cfg.Server.Addr())
			return g.Wait()
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP port (overrides config)")
	return cmd
}

// purgeCmd removes finished care tasks and stale cache rows once
func purgeCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete completed and cancelled care tasks older than --days",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer logging.Sync()

			a, err := openApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if days <= 0 {
				days = cfg.Care.CareRetentionDays
			}

			ctx := cmd.Context()
			removed := a.orch.Care().Purge(ctx, days)
			fmt.Printf("Removed %d care tasks finished more than %d days ago\n", removed, days)

			if cfg.Model.CacheTTL > 0 {
				n, err := a.cache.PurgeOlderThan(ctx, time.Now().UTC().Add(-cfg.Model.CacheTTL))
				if err != nil {
					return fmt.Errorf("purge reply cache: %w", err)
				}
				fmt.Printf("Removed %d expired cache entries\n", n)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "retention in days (default from config, 30)")
	return cmd
}

// chatCmd runs one turn from the terminal
func chatCmd() *cobra.Command {
	var session string

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send one message and print the reply and any due care",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer logging.Sync()

			a, err := openApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if session == "" {
				session = core.NewSessionID()
				fmt.Printf("Session: %s\n", session)
			}

			ctx := cmd.Context()
			care, err := a.orch.PendingCare(ctx, session)
			if err != nil {
				return err
			}
			for _, msg := range care {
				fmt.Printf("💌 %s\n", msg)
			}

			res, err := a.orch.Handle(ctx, session, strings.Join(args, " "))
			if err != nil {
				return fmt.Errorf("%s: %w", core.KindOf(err), err)
			}

			fmt.Printf("\n%s\n\n", res.Reply)
			fmt.Printf("Emotion: %s (%.1f) strategy=%s tone=%s\n",
				res.Emotion.PrimaryEmotion, res.Emotion.Intensity, res.Emotion.EmpathyStrategy, res.Emotion.ResponseTone)
			for _, task := range res.CareTasksCreated {
				fmt.Printf("Care scheduled: %s at %s (%s)\n",
					task.CareType, task.ScheduledTime.Local().Format("2006-01-02 15:04"), task.Priority)
			}
			fmt.Printf("Intimacy: Lv.%d %s  %d/%d exp (+%d)\n",
				res.Award.NewLevel, res.Award.Title, res.Award.CurrentExp, res.Award.ExpNeeded, res.Award.ExpGained)
			for _, reward := range res.Award.LevelRewards {
				fmt.Printf("🎉 Lv.%d %s: %s\n", reward.Level, reward.Kind, reward.Content)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "session id (default: a new one)")
	return cmd
}

// configCmd writes the effective configuration without secrets
func configCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write the effective configuration (secrets omitted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if out == "" {
				out = configPath
			}
			if err := cfg.Save(out); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Println("Configuration written")
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "output", "o", "", "output path (default <data-dir>/config.yaml)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mindsprite %s\n", version)
		},
	}
}
