// Command oi-5min ingests 5-minute open interest snapshots from the
// Algopack futoi endpoint for the configured ticker universe. Earlier
// snapshots of the same slot are overwritten as the exchange revises
// them intraday.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"github.com/Va3elina/moex-aggregator/internal/calendar"
	"github.com/Va3elina/moex-aggregator/internal/cli"
	"github.com/Va3elina/moex-aggregator/internal/updater"
)

var (
	configFile = flag.String("f", "etc/collector.yaml", "path to the collector configuration")
	once       = flag.Bool("once", false, "run a single catch-up pass and exit")
	force      = flag.Bool("force", false, "run even on non-trading days")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	svcCtx, err := cli.Bootstrap(*configFile)
	if err != nil {
		logx.Errorf("bootstrap: %v", err)
		return 1
	}
	defer logx.Close()

	if err := svcCtx.Config.RequireAlgopack(); err != nil {
		logx.Errorf("%v", err)
		return 1
	}

	if ok, reason := calendar.IsTradingDay(calendar.MoscowNow()); !ok && !*force {
		logx.Infof("skipping open interest: %s (use --force to override)", reason)
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	u := updater.NewOIFiveMin(svcCtx.Algopack, svcCtx.OpenInterest, svcCtx.Universe.OITickers)

	// Both modes start with a watermark-driven catch-up, so a restart
	// after downtime backfills before the cheap latest-only passes.
	res, err := u.UpdateOnce(ctx)
	if err != nil {
		logx.Errorf("open interest catch-up: %v", err)
		return 1
	}
	logx.Infof("open interest catch-up done: %s", res)
	if *once {
		return 0
	}

	loop := &updater.Loop{
		Jobs: []updater.Job{{
			Name:   "oi-5m",
			Slot:   5 * time.Minute,
			Buffer: 30 * time.Second,
			Run:    u.UpdateLatest,
		}},
		Session:  calendar.FuturesSession,
		GapCheck: u.GapCheck,
	}
	if err := loop.Run(ctx); err != nil {
		if ctx.Err() != nil {
			logx.Info("shutdown signal received, stopping")
			return 0
		}
		logx.Errorf("open interest loop: %v", err)
		return 1
	}
	return 0
}
