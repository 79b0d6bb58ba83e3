// Command candles-spot ingests stock candles from the Algopack API
// for every instrument marked as a stock in the instruments table.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

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
		logx.Infof("skipping spot candles: %s (use --force to override)", reason)
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	u := updater.NewSpotCandles(svcCtx.Algopack, svcCtx.Instruments, svcCtx.Candles)

	if *once {
		res, err := u.UpdateOnce(ctx)
		if err != nil {
			logx.Errorf("spot candles: %v", err)
			return 1
		}
		logx.Infof("spot candles done: %s", res)
		return 0
	}

	loop := &updater.Loop{
		Jobs:     u.Jobs(),
		Session:  calendar.StockSession,
		GapCheck: u.GapCheck,
	}
	if err := loop.Run(ctx); err != nil {
		if ctx.Err() != nil {
			logx.Info("shutdown signal received, stopping")
			return 0
		}
		logx.Errorf("spot candles loop: %v", err)
		return 1
	}
	return 0
}
