package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Pythefnos/Topstep-quant/internal/config"
	"github.com/Pythefnos/Topstep-quant/internal/engine"
	"github.com/Pythefnos/Topstep-quant/internal/ledger"
	"github.com/Pythefnos/Topstep-quant/internal/logging"
	"github.com/Pythefnos/Topstep-quant/internal/report"
)

func main() {
	root := &cobra.Command{
		Use:   "topstep-quant",
		Short: "Risk and capital coordination engine for funded-account trading",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// secrets come from .env in development
			_ = godotenv.Load()
		},
	}

	root.AddCommand(runCmd())
	root.AddCommand(reportCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the coordination engine until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			logger := logging.New(cfg.LogLevel, cfg.Environment)

			eng, err := engine.New(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := eng.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			logger.Info().Msg("🛑 Shutdown signal received")
			eng.Stop()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "engine", "configuration file (JSON, resolved under configs/)")
	return cmd
}

func reportCmd() *cobra.Command {
	var journalPath string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render the audit journal",
	}
	cmd.PersistentFlags().StringVarP(&journalPath, "journal", "j", "journal.db", "path to the sqlite journal")

	openReporter := func() (*report.Reporter, func(), error) {
		journal, err := ledger.NewSQLiteJournal(journalPath, zerolog.Nop())
		if err != nil {
			return nil, nil, err
		}
		return report.New(journal), func() { journal.Close() }, nil
	}

	days := &cobra.Command{
		Use:   "days",
		Short: "Summarize all journaled trading days",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, done, err := openReporter()
			if err != nil {
				return err
			}
			defer done()
			return r.PrintDays(os.Stdout)
		},
	}

	day := &cobra.Command{
		Use:   "day <trading-day>",
		Short: "Show one trading day's entries and risk events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, done, err := openReporter()
			if err != nil {
				return err
			}
			defer done()
			return r.PrintDay(os.Stdout, args[0])
		},
	}

	excel := &cobra.Command{
		Use:   "excel <output.xlsx>",
		Short: "Export the full journal as an Excel workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, done, err := openReporter()
			if err != nil {
				return err
			}
			defer done()
			if err := r.WriteExcel(args[0]); err != nil {
				return err
			}
			fmt.Printf("📊 Journal exported to %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(days, day, excel)
	return cmd
}
