package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nestegg-fi/nestegg/internal/engine"
	"github.com/nestegg-fi/nestegg/internal/snapshot"
	"github.com/nestegg-fi/nestegg/internal/storage"
)

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Record daily net worth snapshots",
	}

	cmd.AddCommand(snapshotRunCmd())
	cmd.AddCommand(snapshotDaemonCmd())

	return cmd
}

func snapshotRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Take a snapshot for every known user now",
		Long: `Sync every known user and record today's net worth snapshot.

One user failing does not stop the batch; failures are counted and
reported at the end.`,
		RunE: runSnapshotOnce,
	}
}

func snapshotDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the daily snapshot scheduler in the foreground",
		Long: `Run a long-lived scheduler that takes a snapshot for every known
user once per day at the configured local time.

Configure the schedule with snapshot.hour, snapshot.minute, and
snapshot.timezone. Stop with Ctrl-C.`,
		RunE: runSnapshotDaemon,
	}

	cmd.Flags().Int("hour", -1, "hour of day to run (overrides config)")
	cmd.Flags().Int("minute", -1, "minute to run (overrides config)")

	return cmd
}

func runSnapshotOnce(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	runner, store, err := buildSnapshotRunner(cmd)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	var bar *progressbar.ProgressBar
	runner.OnUser = func(processed, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionSetWidth(40),
				progressbar.OptionSetDescription("Taking snapshots..."),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(os.Stderr)
				}),
			)
		}
		if err := bar.Set(processed); err != nil {
			slog.Warn("Failed to update progress bar", "error", err)
		}
	}

	result := runner.RunDailySnapshots(ctx)

	fmt.Printf("Snapshots complete: %d succeeded, %d failed\n", result.Success, result.Failed)
	if result.Failed > 0 {
		return fmt.Errorf("%d user(s) failed to snapshot", result.Failed)
	}
	return nil
}

func runSnapshotDaemon(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	runner, store, err := buildSnapshotRunner(cmd)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	hour := viper.GetInt("snapshot.hour")
	minute := viper.GetInt("snapshot.minute")
	if flagHour, _ := cmd.Flags().GetInt("hour"); flagHour >= 0 {
		hour = flagHour
	}
	if flagMinute, _ := cmd.Flags().GetInt("minute"); flagMinute >= 0 {
		minute = flagMinute
	}

	loc := snapshotLocation()
	scheduler := snapshot.NewScheduler(runner, hour, minute, loc)

	slog.Info("Snapshot daemon started",
		"hour", hour,
		"minute", minute,
		"timezone", loc.String())

	scheduler.Run(ctx)

	slog.Info("Snapshot daemon stopped")
	return nil
}

func buildSnapshotRunner(cmd *cobra.Command) (*snapshot.Runner, *storage.SQLiteStorage, error) {
	ctx := cmd.Context()

	store, err := initStorage(ctx)
	if err != nil {
		return nil, nil, err
	}

	sources, err := buildSources(ctx)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	eng := engine.New(store, sources...)
	runner := snapshot.NewRunner(store, eng, snapshotLocation())

	return runner, store, nil
}
