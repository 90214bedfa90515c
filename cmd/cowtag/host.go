package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/cowtag/internal/eventloop"
	"github.com/srg/cowtag/internal/host"
	"github.com/srg/cowtag/internal/logsink"
	"github.com/srg/cowtag/internal/radio/goble"
)

var hostCollarID uint8

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Provision collars and log their telemetry",
	Long: `Scans for collars advertising the collar service, writes the local time and a
collar id to the first one that connects, then follows its periodic advertising
train and appends every new frame to the CSV log.

Periodic sync requires controller support; on backends without it the gateway
provisions collars but cannot receive their frames.`,
	Args: cobra.NoArgs,
	RunE: runHost,
}

func init() {
	hostCmd.Flags().Uint8Var(&hostCollarID, "collar-id", 0, "Collar id to provision (overrides config)")
}

func runHost(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("collar-id") {
		cfg.Host.CollarID = hostCollarID
	}
	cmd.SilenceUsage = true

	ctx, cancel := withInterrupt(cmd.Context(), logger)
	defer cancel()

	dev, err := goble.OpenDevice()
	if err != nil {
		return err
	}
	defer func() {
		if err := dev.Stop(); err != nil {
			logger.WithError(err).Debug("Failed to stop BLE device")
		}
	}()

	sink, err := logsink.Open(cfg.LogFile, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close telemetry log")
		}
	}()

	receiver, err := host.NewSyncReceiver(sink, cfg.Host.HistorySize, logger)
	if err != nil {
		return err
	}

	loop := eventloop.New[host.Event](cfg.Host.QueueSize, host.SignalEvent, logger)
	timers := eventloop.NewSystemTimers(ctx, loop.Mailbox(), logger)

	opts := goble.DefaultOptions()
	opts.ConnectTimeout = cfg.Host.ConnectTimeout
	stack := goble.New(ctx, dev, loop.Post, opts, logger)
	mgr := host.NewManager(stack, timers, receiver, cfg.HostOptions(), logger)

	logger.WithFields(logrus.Fields{
		"collar_id": cfg.Host.CollarID,
		"log_file":  cfg.LogFile,
		"new_log":   sink.IsNew(),
	}).Info("Gateway starting")

	if err := loop.Post(ctx, host.Boot{}); err != nil {
		return err
	}
	runErr := loop.Run(ctx, mgr.Handle)

	cancel()
	_ = stack.StopScan()
	stack.Wait()

	printReceiverStats(cmd, receiver.Stats(), sink.Rows())
	if runErr != nil {
		return fmt.Errorf("gateway stopped: %w", runErr)
	}
	return nil
}

func printReceiverStats(cmd *cobra.Command, st host.ReceiverStats, rows int) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "reports=%d logged=%d duplicates=%d rejected=%d rows=%d\n",
		st.Reports, st.Logged, st.Duplicates, st.Rejected, rows)
}
