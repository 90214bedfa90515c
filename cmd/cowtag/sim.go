package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/cowtag/internal/logsink"
	"github.com/srg/cowtag/internal/radio/loopback"
	"github.com/srg/cowtag/pkg/config"
)

var (
	simDuration      time.Duration
	simNotReadyEvery int
	simCollarID      uint8
	simTemperature   int32
	simBattery       uint8
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Run a simulated collar against the gateway",
	Long: `Runs one simulated collar and the gateway against an in-process radio. The
collar is provisioned over a connection, switches to periodic advertising and the
gateway logs its frames to the CSV log until the duration elapses or Ctrl+C.`,
	Example: `  cowtag sim --duration 10s --log-file sim.csv
  cowtag sim --not-ready-every 5 --log-level debug`,
	Args: cobra.NoArgs,
	RunE: runSim,
}

func init() {
	simCmd.Flags().DurationVar(&simDuration, "duration", 30*time.Second, "How long to run (0 runs until Ctrl+C)")
	simCmd.Flags().IntVar(&simNotReadyEvery, "not-ready-every", 0, "Make every Nth motion read report not-ready (0 disables)")
	simCmd.Flags().Uint8Var(&simCollarID, "collar-id", 0, "Collar id to provision (overrides config)")
	simCmd.Flags().Int32Var(&simTemperature, "temperature", 21500, "Simulated temperature in milli-degrees Celsius")
	simCmd.Flags().Uint8Var(&simBattery, "battery", 180, "Simulated raw battery level")
}

// simulationOptions maps the configuration and sim flags onto a loopback run.
func simulationOptions(cfg *config.Config) loopback.SimulationOptions {
	opts := loopback.DefaultSimulationOptions()
	opts.Host = cfg.HostOptions()
	opts.Collar = cfg.CollarOptions()
	opts.QueueSize = cfg.Host.QueueSize
	opts.HistorySize = cfg.Host.HistorySize
	opts.WatchdogPeriod = cfg.Collar.Watchdog
	opts.NotReadyEvery = simNotReadyEvery
	opts.Temperature = simTemperature
	opts.Battery = simBattery
	return opts
}

func runSim(cmd *cobra.Command, _ []string) error {
	if simNotReadyEvery < 0 {
		return fmt.Errorf("invalid --not-ready-every %d: must not be negative", simNotReadyEvery)
	}
	if simDuration < 0 {
		return fmt.Errorf("invalid --duration %s: must not be negative", simDuration)
	}

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("collar-id") {
		cfg.Host.CollarID = simCollarID
	}
	cmd.SilenceUsage = true

	ctx, cancel := withInterrupt(cmd.Context(), logger)
	defer cancel()
	if simDuration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, simDuration)
		defer stop()
	}

	sink, err := logsink.Open(cfg.LogFile, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close telemetry log")
		}
	}()

	sim, err := loopback.NewSimulation(simulationOptions(cfg), sink, logger)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"collar_id": cfg.Host.CollarID,
		"duration":  simDuration,
		"log_file":  cfg.LogFile,
	}).Info("Simulation starting")

	runErr := sim.Run(ctx)

	frames, reports, dropped := sim.Air.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "frames=%d reports=%d dropped=%d not_ready=%d state=%s/%s\n",
		frames, reports, dropped, sim.Controller.Sampler().NotReady(),
		sim.Manager.State(), sim.Controller.State())
	printReceiverStats(cmd, sim.Receiver.Stats(), sink.Rows())

	if errors.Is(runErr, context.DeadlineExceeded) {
		return nil
	}
	return runErr
}
