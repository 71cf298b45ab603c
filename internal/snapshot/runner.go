// Package snapshot computes and persists daily net-worth snapshots for
// every user.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nestegg-fi/nestegg/internal/engine"
	"github.com/nestegg-fi/nestegg/internal/model"
	"github.com/nestegg-fi/nestegg/internal/service"
)

// Result reports how a batch run went.
type Result struct {
	Success int
	Failed  int
}

// Runner executes one batch of daily snapshots. Per-user failures are
// caught and counted, never propagated: the run itself cannot fail past its
// own boundary.
type Runner struct {
	repo     service.Repository
	engine   *engine.SyncEngine
	location *time.Location
	logger   *slog.Logger

	// OnUser, when set, is called after each user with running progress.
	OnUser func(processed, total int)
}

// NewRunner creates a snapshot runner. Snapshot dates are taken in the given
// location so "one row per calendar day" is stable across DST shifts; nil
// means UTC.
func NewRunner(repo service.Repository, syncEngine *engine.SyncEngine, location *time.Location) *Runner {
	if location == nil {
		location = time.UTC
	}
	return &Runner{
		repo:     repo,
		engine:   syncEngine,
		location: location,
		logger:   slog.Default().With("component", "snapshot"),
	}
}

// RunDailySnapshots re-aggregates every user's accounts and upserts one
// snapshot row per user for today. The scheduler calls this fire-and-forget,
// so the method logs its own summary and swallows per-user panics.
func (r *Runner) RunDailySnapshots(ctx context.Context) Result {
	var result Result

	users, err := r.repo.ListUserIDs(ctx)
	if err != nil {
		r.logger.Error("Failed to list users, skipping run", "error", err)
		return result
	}

	today := r.today()
	r.logger.Info("Starting daily snapshot run", "users", len(users), "date", today.Format("2006-01-02"))

	for i, userID := range users {
		if ctx.Err() != nil {
			r.logger.Warn("Snapshot run interrupted",
				"processed", i,
				"remaining", len(users)-i)
			break
		}

		if err := r.snapshotUser(ctx, userID, today); err != nil {
			result.Failed++
			r.logger.Error("Snapshot failed for user", "user_id", userID, "error", err)
		} else {
			result.Success++
		}

		if r.OnUser != nil {
			r.OnUser(i+1, len(users))
		}
	}

	r.logger.Info("Daily snapshot run finished",
		"success", result.Success,
		"failed", result.Failed)
	return result
}

// snapshotUser is one isolated unit of work. A panic inside a provider
// client counts as a failure for this user only.
func (r *Runner) snapshotUser(ctx context.Context, userID string, date time.Time) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic during snapshot: %v", recovered)
		}
	}()

	accounts, err := r.engine.SyncUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("re-aggregating accounts: %w", err)
	}

	snapshot := model.ComputeSnapshot(userID, date, accounts)
	if err := r.repo.UpsertSnapshot(ctx, &snapshot); err != nil {
		return fmt.Errorf("persisting snapshot: %w", err)
	}

	r.logger.Debug("Snapshot persisted",
		"user_id", userID,
		"total", snapshot.TotalBalance.String())
	return nil
}

// today truncates now to the calendar day in the runner's location.
func (r *Runner) today() time.Time {
	now := time.Now().In(r.location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, r.location)
}
