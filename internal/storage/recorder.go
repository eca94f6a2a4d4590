package storage

import (
	"context"
	"time"

	"bwkeeper/internal/eventbus"
	"bwkeeper/internal/task/runner"
	logx "bwkeeper/pkg/logx"
)

// FromOutcome converts a run outcome into its stored form.
func FromOutcome(o runner.Outcome) RunRecord {
	return RunRecord{
		RunID:      o.RunID,
		Source:     o.Source,
		StartedAt:  o.StartedAt,
		URL:        o.URL,
		SpeedLimit: o.SpeedLimit,
		Bytes:      o.Bytes,
		DurationMS: o.Duration.Milliseconds(),
		StatusCode: o.StatusCode,
		Error:      o.Error,
		Skipped:    o.Skipped,
	}
}

// Record appends every finished or skipped run seen on bus until ctx ends.
func Record(ctx context.Context, bus eventbus.Bus, st Store, log logx.Logger) error {
	events, unsub := bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if e.Type != eventbus.RunFinished && e.Type != eventbus.RunSkipped {
				continue
			}
			o, ok := e.Data.(runner.Outcome)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := st.AppendRun(wctx, FromOutcome(o))
			cancel()
			if err != nil {
				log.Warn("run history append failed", logx.String("run_id", o.RunID), logx.Err(err))
			}
		}
	}
}
