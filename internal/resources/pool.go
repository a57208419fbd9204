// Package resources makes sure the compute pool and stage a job needs are usable.
package resources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/aiqojo/sf-ml-test/internal/apperrors"
	"github.com/aiqojo/sf-ml-test/internal/observability"
	"github.com/aiqojo/sf-ml-test/internal/warehouse"
)

// ErrPoolFailedToStart is returned when a resumed pool falls back to SUSPENDED.
var ErrPoolFailedToStart = errors.New("compute pool failed to start")

var errPollBudgetSpent = errors.New("poll budget spent")

// Compute pool states.
const (
	PoolIdle      = "IDLE"
	PoolActive    = "ACTIVE"
	PoolRunning   = "RUNNING"
	PoolSuspended = "SUSPENDED"
	PoolStarting  = "STARTING"
	PoolResuming  = "RESUMING"
	PoolResizing  = "RESIZING"
)

// PoolOptions controls EnsureComputePoolReady.
type PoolOptions struct {
	MaxWait      time.Duration
	PollInterval time.Duration
	Logger       *slog.Logger
	Metrics      *observability.Metrics
}

func (o PoolOptions) withDefaults() PoolOptions {
	if o.MaxWait <= 0 {
		o.MaxWait = 60 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 3 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

func poolReady(state string) bool {
	switch state {
	case PoolIdle, PoolActive, PoolRunning:
		return true
	}
	return false
}

func poolTransitioning(state string) bool {
	switch state {
	case PoolStarting, PoolResuming, PoolResizing:
		return true
	}
	return false
}

// EnsureComputePoolReady waits until pool reports a ready state. A SUSPENDED
// pool is resumed once; seeing SUSPENDED again after that fails with
// ErrPoolFailedToStart. After the first check the pool is polled every
// opts.PollInterval, at most MaxWait/PollInterval (rounded up, never fewer
// than two) more times.
func EnsureComputePoolReady(ctx context.Context, db warehouse.Querier, pool string, opts PoolOptions) error {
	name, err := warehouse.ParseName(pool)
	if err != nil {
		return err
	}
	opts = opts.withDefaults()
	log := opts.Logger.With("compute_pool", name.String())

	var (
		first   = true
		resumed bool
		last    string
		polls   int
	)
	budget := pollBudget(opts.MaxWait, opts.PollInterval)

	err = wait.PollUntilContextCancel(ctx, opts.PollInterval, true, func(context.Context) (bool, error) {
		state, err := poolState(ctx, db, name.Object)
		if err != nil {
			return false, err
		}
		opts.Metrics.RecordPoll(ctx, "compute_pool", state)

		defer func() {
			first = false
			polls++
		}()
		last = state
		spent := polls >= budget

		switch {
		case poolReady(state):
			log.Info("compute pool ready", "state", state)
			return true, nil
		case state == PoolSuspended:
			if resumed {
				return false, fmt.Errorf("%w: %s is %s after resume", ErrPoolFailedToStart, name, state)
			}
			log.Info("resuming compute pool")
			if _, err := db.ExecContext(ctx, fmt.Sprintf("ALTER COMPUTE POOL %s RESUME", name)); err != nil {
				return false, fmt.Errorf("failed to resume compute pool %s: %w", name, err)
			}
			resumed = true
			opts.Metrics.RecordPoolResume(ctx, name.String())
			if spent {
				return false, errPollBudgetSpent
			}
			return false, nil
		case poolTransitioning(state) || !first:
			if spent {
				return false, errPollBudgetSpent
			}
			log.Debug("waiting for compute pool", "state", state)
			return false, nil
		default:
			return false, fmt.Errorf("compute pool %s is in unexpected state %s", name, state)
		}
	})

	if err == nil {
		return nil
	}
	if errors.Is(err, errPollBudgetSpent) {
		return apperrors.Timeout("resources.pool", fmt.Sprintf("compute pool %s still %s after %s", name, last, opts.MaxWait))
	}
	if ctx.Err() != nil {
		return fmt.Errorf("waiting for compute pool %s: %w", name, ctx.Err())
	}
	return err
}

// pollBudget is the number of polls allowed after the first check. A resumed
// pool is always looked at twice more: once while it resumes, once when ready.
func pollBudget(maxWait, interval time.Duration) int {
	n := int(maxWait / interval)
	if maxWait%interval != 0 {
		n++
	}
	return max(n, 2)
}

// poolState returns the upper-cased state of the named pool, matching the name case-insensitively.
func poolState(ctx context.Context, db warehouse.Querier, pool string) (string, error) {
	rows, err := warehouse.QueryMaps(ctx, db, "SHOW COMPUTE POOLS")
	if err != nil {
		return "", fmt.Errorf("failed to list compute pools: %w", err)
	}
	for _, row := range rows {
		if strings.EqualFold(row.String("name"), pool) {
			return strings.ToUpper(row.String("state")), nil
		}
	}
	return "", apperrors.NotFound("compute pool", pool)
}
