// cmd/feeledger/main.go
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solaudit/feeledger/internal/chain"
	"github.com/solaudit/feeledger/internal/config"
	"github.com/solaudit/feeledger/internal/history"
	"github.com/solaudit/feeledger/internal/ledger"
	"github.com/solaudit/feeledger/internal/logging"
	"github.com/solaudit/feeledger/internal/watcher"
)

func main() {
	root := &cobra.Command{
		Use:          "feeledger",
		Short:        "Tamper-evident creator fee ledger for a pump.fun token",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "configs/config.json", "config file path")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the instrument and append fee events to the ledger",
		RunE:  runWatch,
	}
	watchCmd.Flags().String("log-file", "", "optional JSON log file path")
	root.AddCommand(watchCmd)

	verifyCmd := &cobra.Command{
		Use:   "verify <ledger.json>",
		Short: "Verify a persisted ledger offline and print an audit report",
		Args:  cobra.ExactArgs(1),
		RunE:  runVerify,
	}
	root.AddCommand(verifyCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logFile, _ := cmd.Flags().GetString("log-file")
	logger, err := logging.Init(cfg.DebugLogging, logFile)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	client := chain.NewClient(cfg.RPCURL, logger)

	w, err := watcher.New(cfg, client, watcher.Callbacks{}, nil, logger)
	if err != nil {
		return err
	}

	hist, err := history.New(cfg.HistoryDir, w.RunID(), 30*time.Second, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := hist.Close(); err != nil {
			logger.Warn("Failed to close history writer", zap.Error(err))
		}
	}()
	w.SetRecorder(hist)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received")
	return w.Stop()
}

func runVerify(cmd *cobra.Command, args []string) error {
	path := args[0]

	book, result, err := ledger.VerifyFile(path)
	if err != nil {
		return err
	}

	fmt.Println(renderReport(path, book, result))

	if !result.Valid {
		// The ledger must not be trusted downstream.
		return fmt.Errorf("ledger verification failed: %s", result)
	}
	return nil
}
