// Package orchestrator sequences all collectors in one process,
// replacing a crontab of individual binaries.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"github.com/Va3elina/moex-aggregator/internal/calendar"
	"github.com/Va3elina/moex-aggregator/internal/updater"
)

const (
	tickSleep  = time.Second
	idleSleep  = time.Minute
	statsEvery = time.Hour

	fiveMinBuffer = 10 * time.Second
	hourlyBuffer  = 2 * time.Minute
	dailyAt       = 10 * time.Minute // past midnight
)

// Task is one collector invocation with its own deadline. A run that
// exceeds Timeout is cancelled and counted as a failure; upsert
// idempotency keeps partial progress safe.
type Task struct {
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) (updater.Result, error)
}

type taskStats struct {
	runs     int
	failures int
	elapsed  time.Duration
	inserted int
}

// Orchestrator fires task groups on three cadences: every 5-minute slot
// (in fixed order: open interest before candles, so OI snapshots and
// the candles they describe land together), every hour, and once a day
// shortly after midnight.
type Orchestrator struct {
	FiveMin []Task // ordered
	Hourly  []Task
	Daily   []Task

	Session calendar.Session

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration)

	mu    sync.Mutex
	stats map[string]*taskStats
}

// Run blocks until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	now := o.now()
	sleep := o.sleeper()

	t := now()
	lastFive := slotFloor(t, 5*time.Minute)
	lastHour := slotFloor(t, time.Hour)
	lastDay := dayFloor(t)
	lastStats := t

	logx.Infof("orchestrator: %d five-minute, %d hourly, %d daily tasks",
		len(o.FiveMin), len(o.Hourly), len(o.Daily))

	// Initial pass catches up after downtime regardless of slot state.
	o.runGroup(ctx, "initial", append(append(append([]Task{}, o.FiveMin...), o.Hourly...), o.Daily...))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		t = now()

		if ok, reason := calendar.IsTradingDay(t); !ok {
			logx.Debugf("non-trading day: %s", reason)
			sleep(ctx, idleSleep)
			continue
		}

		if day := dayFloor(t); !day.Equal(lastDay) && t.Sub(day) >= dailyAt {
			o.runGroup(ctx, "daily", o.Daily)
			lastDay = day
		}

		if tradingNow, _ := calendar.IsTradingHours(t, o.Session); tradingNow {
			if slot := slotFloor(t, 5*time.Minute); !slot.Equal(lastFive) && t.Sub(slot) >= fiveMinBuffer {
				o.runGroup(ctx, "5min", o.FiveMin)
				lastFive = slot
			}
			if slot := slotFloor(t, time.Hour); !slot.Equal(lastHour) && t.Sub(slot) >= hourlyBuffer {
				o.runGroup(ctx, "hourly", o.Hourly)
				lastHour = slot
			}
		}

		if t.Sub(lastStats) >= statsEvery {
			o.logStats()
			lastStats = t
		}

		sleep(ctx, tickSleep)
	}
}

// RunOnce executes every task group once, in order. Used by the
// --once mode and by the initial sync.
func (o *Orchestrator) RunOnce(ctx context.Context) updater.Result {
	return o.runGroup(ctx, "once", append(append(append([]Task{}, o.FiveMin...), o.Hourly...), o.Daily...))
}

// runGroup executes tasks sequentially. A failed task is counted and
// skipped, the rest of the group still runs.
func (o *Orchestrator) runGroup(ctx context.Context, group string, tasks []Task) updater.Result {
	var total updater.Result
	for _, task := range tasks {
		if ctx.Err() != nil {
			return total
		}
		res, err := o.runTask(ctx, task)
		if err != nil {
			logx.Errorf("[%s] %s failed: %v", group, task.Name, err)
			continue
		}
		total = addResults(total, res)
	}
	return total
}

func (o *Orchestrator) runTask(ctx context.Context, task Task) (updater.Result, error) {
	timeout := task.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := o.now()()
	res, err := task.Run(runCtx)
	elapsed := o.now()().Sub(started)

	o.mu.Lock()
	if o.stats == nil {
		o.stats = make(map[string]*taskStats)
	}
	st, ok := o.stats[task.Name]
	if !ok {
		st = &taskStats{}
		o.stats[task.Name] = st
	}
	st.runs++
	st.elapsed += elapsed
	if err != nil {
		st.failures++
	} else {
		st.inserted += res.Inserted
	}
	o.mu.Unlock()

	if err != nil {
		return updater.Result{}, err
	}
	if runCtx.Err() != nil {
		return updater.Result{}, fmt.Errorf("deadline exceeded after %s", elapsed)
	}
	logx.Infof("%s: %s in %s", task.Name, res, elapsed.Round(time.Millisecond))
	return res, nil
}

// Stats returns per-task counters: runs, failures, rows inserted.
func (o *Orchestrator) Stats() map[string][3]int {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string][3]int, len(o.stats))
	for name, st := range o.stats {
		out[name] = [3]int{st.runs, st.failures, st.inserted}
	}
	return out
}

func (o *Orchestrator) logStats() {
	o.mu.Lock()
	defer o.mu.Unlock()
	names := make([]string, 0, len(o.stats))
	for name := range o.stats {
		names = append(names, name)
	}
	sort.Strings(names)
	logx.Info("orchestrator stats")
	for _, name := range names {
		st := o.stats[name]
		logx.Infof("  %s: runs=%d failures=%d inserted=%d avg=%s",
			name, st.runs, st.failures, st.inserted, avgDuration(st.elapsed, st.runs))
	}
}

func avgDuration(total time.Duration, runs int) time.Duration {
	if runs == 0 {
		return 0
	}
	return (total / time.Duration(runs)).Round(time.Millisecond)
}

func addResults(a, b updater.Result) updater.Result {
	return updater.Result{
		Attempted: a.Attempted + b.Attempted,
		Inserted:  a.Inserted + b.Inserted,
		Failed:    a.Failed + b.Failed,
	}
}

func (o *Orchestrator) now() func() time.Time {
	if o.Now != nil {
		return o.Now
	}
	return calendar.MoscowNow
}

func (o *Orchestrator) sleeper() func(context.Context, time.Duration) {
	if o.Sleep != nil {
		return o.Sleep
	}
	return func(ctx context.Context, d time.Duration) {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
		}
	}
}

func slotFloor(t time.Time, slot time.Duration) time.Time {
	return t.Truncate(slot)
}

func dayFloor(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
