// Command oi-aggregate derives hourly open interest rows from stored
// 5-minute snapshots. The hourly figure is the minute-55 snapshot of
// each hour, retimed to the top of the hour. Runs entirely against
// Postgres, no exchange access needed.
//
// Usage:
//
//	oi-aggregate once            close every hourly gap found
//	oi-aggregate -last-hour once aggregate only the previous clock hour
//	oi-aggregate -recent 7 once  limit the gap scan to the last N days
//	oi-aggregate daemon          aggregate each hour as it completes
package main

import (
	"context"
	"flag"
	"fmt"
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
	lastHour   = flag.Bool("last-hour", false, "aggregate only the previous clock hour")
	recentDays = flag.Int("recent", 0, "limit the gap scan to the last N days")
	force      = flag.Bool("force", false, "run even on non-trading days")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] once|daemon\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	os.Exit(run())
}

func run() int {
	flag.Usage = usage
	flag.Parse()

	mode := flag.Arg(0)
	if mode != "once" && mode != "daemon" {
		usage()
		return 2
	}

	svcCtx, err := cli.Bootstrap(*configFile)
	if err != nil {
		logx.Errorf("bootstrap: %v", err)
		return 1
	}
	defer logx.Close()

	if ok, reason := calendar.IsTradingDay(calendar.MoscowNow()); !ok && !*force {
		logx.Infof("skipping hourly aggregation: %s (use --force to override)", reason)
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	u := updater.NewHourlyOIAggregate(svcCtx.OpenInterest, svcCtx.Universe.OITickers)

	if mode == "once" {
		var res updater.Result
		switch {
		case *lastHour:
			res, err = u.UpdateLastHour(ctx)
		case *recentDays > 0:
			res, err = u.UpdateRecent(ctx, *recentDays)
		default:
			res, err = u.UpdateOnce(ctx)
		}
		if err != nil {
			logx.Errorf("hourly aggregation: %v", err)
			return 1
		}
		logx.Infof("hourly aggregation done: %s", res)
		return 0
	}

	loop := &updater.Loop{
		Jobs: []updater.Job{{
			Name:   "oi-hourly",
			Slot:   time.Hour,
			Buffer: 2 * time.Minute,
			Run:    u.UpdateLastHour,
		}},
		Session: calendar.FuturesSession,
	}
	if err := loop.Run(ctx); err != nil {
		if ctx.Err() != nil {
			logx.Info("shutdown signal received, stopping")
			return 0
		}
		logx.Errorf("hourly aggregation loop: %v", err)
		return 1
	}
	return 0
}
