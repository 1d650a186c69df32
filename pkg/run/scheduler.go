package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cdnprobe/cdnprobe/pkg/types"
)

// Prober executes single probes. *probe.Executor satisfies it.
type Prober interface {
	HTTP(ctx context.Context, ep types.Endpoint, p types.Provider, round int) types.Outcome
	Vendor(ctx context.Context, ep types.Endpoint, providers []types.Provider, round int) types.Outcome
}

// Options configures a Scheduler.
type Options struct {
	Limits    Limits
	Threshold float64

	// Sleep waits d or until ctx is done. Defaults to a timer-based wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Scheduler runs plans against one catalog and prober. It keeps no per-run
// state, so concurrent runs are independent.
type Scheduler struct {
	catalog   Catalog
	prober    Prober
	limits    Limits
	threshold float64
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
}

// New returns a Scheduler.
func New(cat Catalog, prober Prober, opts Options) *Scheduler {
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	return &Scheduler{
		catalog:   cat,
		prober:    prober,
		limits:    opts.Limits,
		threshold: opts.Threshold,
		sleep:     sleep,
		now:       time.Now,
	}
}

// Catalog returns the catalog runs are planned against.
func (s *Scheduler) Catalog() Catalog { return s.catalog }

// Plan validates req without running it.
func (s *Scheduler) Plan(req Request) (Plan, error) {
	return NewPlan(req, s.catalog, s.limits)
}

// Run validates req and executes it, publishing events to pub.
//
// A configuration error publishes a single error event and returns a
// *ConfigError. Otherwise a started event comes first. A cancelled run
// publishes a cancelled event and returns the partial report together with
// the context error; a finished run ends with exactly one complete event.
func (s *Scheduler) Run(ctx context.Context, req Request, pub Publisher) (*Report, error) {
	if pub == nil {
		pub = Discard
	}
	plan, err := s.Plan(req)
	if err != nil {
		pub.Publish(Event{Type: EventError, Err: &ErrorInfo{Error: err.Error()}})
		return nil, err
	}
	return s.Execute(ctx, plan, pub)
}

// Execute runs an already validated plan.
func (s *Scheduler) Execute(ctx context.Context, plan Plan, pub Publisher) (*Report, error) {
	if pub == nil {
		pub = Discard
	}
	total := plan.Total()
	rep := &Report{
		RunID:     uuid.NewString(),
		StartedAt: s.now().UTC(),
		Config:    plan.Request(),
		Providers: plan.Providers,
		Endpoints: plan.Endpoints,
		Total:     total,
		Results:   make([]types.Outcome, 0, total),
	}

	slog.Info("run: started",
		"run_id", rep.RunID,
		"rounds", plan.Rounds,
		"providers", len(plan.Providers),
		"endpoints", len(plan.Endpoints),
		"total", total,
	)

	pub.Publish(Event{
		Type:    EventStarted,
		RunID:   rep.RunID,
		Started: &Started{RunID: rep.RunID, Total: total, Config: rep.Config},
	})

	// Probes run detached so an in-flight request is never torn down
	// half-way; cancellation is honoured between probes.
	probeCtx := context.WithoutCancel(ctx)

	record := func(out types.Outcome) error {
		rep.Results = append(rep.Results, out)
		o := out
		pub.Publish(Event{
			Type:     EventProgress,
			RunID:    rep.RunID,
			Progress: &Progress{Completed: len(rep.Results), Total: total, Result: &o},
		})
		if len(rep.Results) == total {
			return nil
		}
		return s.sleep(ctx, plan.Delay)
	}

	var runErr error
rounds:
	for round := 1; round <= plan.Rounds; round++ {
		for _, ep := range plan.Endpoints {
			switch ep.Kind {
			case types.KindVendorAction:
				if runErr = ctx.Err(); runErr != nil {
					break rounds
				}
				if runErr = record(s.prober.Vendor(probeCtx, ep, plan.Providers, round)); runErr != nil {
					break rounds
				}
			default:
				for _, p := range plan.Providers {
					if runErr = ctx.Err(); runErr != nil {
						break rounds
					}
					var out types.Outcome
					if ep.Kind == types.KindHTTP {
						out = s.prober.HTTP(probeCtx, ep, p, round)
					} else {
						out = unsupported(ep, p, round, s.now())
					}
					if runErr = record(out); runErr != nil {
						break rounds
					}
				}
			}
		}
		pub.Publish(Event{
			Type:  EventRound,
			RunID: rep.RunID,
			Round: &RoundDone{Round: round, Completed: len(rep.Results), Total: total},
		})
	}

	rep.finish(plan, s.threshold, s.now().UTC())

	if runErr != nil {
		rep.Cancelled = true
		slog.Info("run: cancelled",
			"run_id", rep.RunID, "completed", rep.Completed, "total", total, "err", runErr)
		pub.Publish(Event{Type: EventCancelled, RunID: rep.RunID, Report: rep})
		return rep, fmt.Errorf("run: %w", runErr)
	}

	slog.Info("run: completed",
		"run_id", rep.RunID,
		"completed", rep.Completed,
		"issues", len(rep.Summary.Issues),
		"duration", rep.Duration(),
	)
	pub.Publish(Event{Type: EventComplete, RunID: rep.RunID, Report: rep})
	return rep, nil
}

// IsCancelled reports whether err ended a run early.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func unsupported(ep types.Endpoint, p types.Provider, round int, now time.Time) types.Outcome {
	return types.Outcome{
		EndpointID:   ep.ID,
		EndpointName: ep.Name,
		Category:     ep.Category,
		ProviderID:   p.ID,
		Round:        round,
		Error:        fmt.Sprintf("unsupported endpoint kind %q", ep.Kind),
		CompletedAt:  now.UTC(),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
