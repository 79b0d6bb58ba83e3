// Command orchestrator runs every collector in one process: 5-minute
// open interest and candles, hourly open interest aggregation, and the
// daily ISS open positions pass. Replaces a crontab of the individual
// binaries on hosts where one long-lived process is easier to operate.
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
	"github.com/Va3elina/moex-aggregator/internal/orchestrator"
	"github.com/Va3elina/moex-aggregator/internal/updater"
)

var (
	configFile = flag.String("f", "etc/collector.yaml", "path to the collector configuration")
	once       = flag.Bool("once", false, "run every task group once and exit")
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	oiFive := updater.NewOIFiveMin(svcCtx.Algopack, svcCtx.OpenInterest, svcCtx.Universe.OITickers)
	futures := updater.NewFuturesCandles(svcCtx.Algopack, svcCtx.Resolver, svcCtx.Candles)
	spot := updater.NewSpotCandles(svcCtx.Algopack, svcCtx.Instruments, svcCtx.Candles)
	oiHourly := updater.NewHourlyOIAggregate(svcCtx.OpenInterest, svcCtx.Universe.OITickers)
	oiDaily := updater.NewOIDaily(svcCtx.ISS, svcCtx.OpenInterest, svcCtx.Instruments)

	o := &orchestrator.Orchestrator{
		// Open interest first: its snapshots and the candles that
		// describe the same slot should land in the same pass.
		FiveMin: []orchestrator.Task{
			{Name: "oi-5min", Timeout: 5 * time.Minute, Run: oiFive.UpdateLatest},
			{Name: "futures-candles", Timeout: 15 * time.Minute, Run: futures.UpdateOnce},
			{Name: "spot-candles", Timeout: 15 * time.Minute, Run: spot.UpdateOnce},
		},
		Hourly: []orchestrator.Task{
			{Name: "oi-hourly", Timeout: 10 * time.Minute, Run: func(ctx context.Context) (updater.Result, error) {
				return oiHourly.UpdateRecent(ctx, 7)
			}},
		},
		Daily: []orchestrator.Task{
			{Name: "oi-daily", Timeout: 30 * time.Minute, Run: oiDaily.UpdateOnce},
		},
		Session: calendar.FuturesSession,
	}

	if *once {
		res := o.RunOnce(ctx)
		logx.Infof("orchestrator pass done: %s", res)
		return 0
	}

	// Backfill 5-minute open interest before the latest-only task
	// takes over; candles and daily passes are watermark-driven and
	// catch up on their own.
	if res, err := oiFive.UpdateOnce(ctx); err != nil {
		logx.Errorf("open interest catch-up: %v", err)
	} else {
		logx.Infof("open interest catch-up done: %s", res)
	}

	if err := o.Run(ctx); err != nil {
		if ctx.Err() != nil {
			logx.Info("shutdown signal received, stopping")
			return 0
		}
		logx.Errorf("orchestrator: %v", err)
		return 1
	}
	return 0
}
