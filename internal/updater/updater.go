// Package updater contains the per-source ingestion passes and the
// daemon loop that schedules them against exchange trading slots.
package updater

import (
	"context"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"github.com/Va3elina/moex-aggregator/internal/calendar"
)

// Result accumulates the outcome of one ingestion pass.
type Result struct {
	Attempted int
	Inserted  int
	Failed    int // instruments that contributed nothing due to errors
}

func (r *Result) add(other Result) {
	r.Attempted += other.Attempted
	r.Inserted += other.Inserted
	r.Failed += other.Failed
}

func (r Result) String() string {
	return fmt.Sprintf("attempted=%d inserted=%d failed=%d", r.Attempted, r.Inserted, r.Failed)
}

const (
	idleSleep      = time.Minute
	dailyIdleSleep = time.Hour
	tickSleep      = time.Second
	gapInterval    = time.Hour
	retryBackoff   = 30 * time.Second
	maxReconnects  = 5
)

// Job is one scheduled pass inside a Loop. Slot is the cadence the pass
// fires on, Buffer how long after slot open the exchange needs to make
// the previous slot's data visible.
type Job struct {
	Name   string
	Slot   time.Duration
	Buffer time.Duration
	Run    func(ctx context.Context) (Result, error)
}

// Loop drives a set of jobs during trading hours. Each job fires once
// per slot; its last-completed slot only advances on success, so a
// failed pass is retried on the next tick. Job errors are treated as
// connection-level: the loop backs off 30s times the attempt number and
// gives up after 5 consecutive failures.
type Loop struct {
	Jobs     []Job
	Session  calendar.Session
	GapCheck func(ctx context.Context) // optional advisory audit, runs hourly

	Now   func() time.Time               // defaults to calendar.MoscowNow
	Sleep func(ctx context.Context, d time.Duration) // defaults to sleepCtx
}

// Run blocks until ctx is cancelled or reconnect attempts are
// exhausted. It starts with one unconditional pass over every job.
func (l *Loop) Run(ctx context.Context) error {
	now := l.now()
	sleep := l.sleeper()

	lastSlot := make([]time.Time, len(l.Jobs))
	retries := 0

	resync := func() error {
		logx.Info("initial sync")
		for i := range l.Jobs {
			job := &l.Jobs[i]
			res, err := job.Run(ctx)
			if err != nil {
				return fmt.Errorf("%s: %w", job.Name, err)
			}
			logx.Infof("%s: %s", job.Name, res)
			lastSlot[i] = slotFloor(now(), job.Slot)
		}
		return nil
	}

	if err := resync(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		retries++
		logx.Errorf("initial sync failed (attempt %d/%d): %v", retries, maxReconnects, err)
	}

	lastGap := now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if retries >= maxReconnects {
			return fmt.Errorf("giving up after %d reconnect attempts", retries)
		}
		if retries > 0 {
			sleep(ctx, retryBackoff*time.Duration(retries))
			if err := resync(); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				retries++
				logx.Errorf("resync failed (attempt %d/%d): %v", retries, maxReconnects, err)
				continue
			}
			retries = 0
		}

		t := now()
		if ok, reason := calendar.IsTradingHours(t, l.Session); !ok {
			logx.Debugf("outside trading hours: %s", reason)
			sleep(ctx, l.idlePeriod())
			continue
		}

		failed := false
		for i := range l.Jobs {
			job := &l.Jobs[i]
			slot := slotFloor(t, job.Slot)
			if slot.Equal(lastSlot[i]) || t.Sub(slot) < job.Buffer {
				continue
			}
			res, err := job.Run(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				retries++
				logx.Errorf("%s failed (attempt %d/%d): %v", job.Name, retries, maxReconnects, err)
				failed = true
				break
			}
			lastSlot[i] = slot
			logx.Infof("%s: %s", job.Name, res)
		}
		if failed {
			continue
		}

		if l.GapCheck != nil && t.Sub(lastGap) >= gapInterval {
			l.GapCheck(ctx)
			lastGap = t
		}

		sleep(ctx, tickSleep)
	}
}

// idlePeriod is the off-hours poll interval: a minute while any job
// runs intraday, an hour when the coarsest cadence is daily.
func (l *Loop) idlePeriod() time.Duration {
	for _, job := range l.Jobs {
		if job.Slot < 24*time.Hour {
			return idleSleep
		}
	}
	return dailyIdleSleep
}

func (l *Loop) now() func() time.Time {
	if l.Now != nil {
		return l.Now
	}
	return calendar.MoscowNow
}

func (l *Loop) sleeper() func(context.Context, time.Duration) {
	if l.Sleep != nil {
		return l.Sleep
	}
	return sleepCtx
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// slotFloor truncates t to the start of its slot. Day slots use
// calendar midnight in t's zone; shorter slots truncate on the wall
// clock, which is exact for whole-hour offsets like MSK.
func slotFloor(t time.Time, slot time.Duration) time.Time {
	if slot >= 24*time.Hour {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	}
	return t.Truncate(slot)
}
