// Command oi-daily ingests end-of-day open positions from the public
// ISS openpositions endpoint, walking trading days forward from each
// instrument's stored watermark. It needs no Algopack token.
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

	if ok, reason := calendar.IsTradingDay(calendar.MoscowNow()); !ok && !*force {
		logx.Infof("skipping daily open interest: %s (use --force to override)", reason)
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	u := updater.NewOIDaily(svcCtx.ISS, svcCtx.OpenInterest, svcCtx.Instruments)

	if *once {
		res, err := u.UpdateOnce(ctx)
		if err != nil {
			logx.Errorf("daily open interest: %v", err)
			return 1
		}
		logx.Infof("daily open interest done: %s", res)
		return 0
	}

	// The whole day is a valid window here: yesterday's figures are
	// published shortly after midnight, well before the session opens.
	loop := &updater.Loop{
		Jobs: []updater.Job{{
			Name:   "oi-daily",
			Slot:   24 * time.Hour,
			Buffer: 10 * time.Minute,
			Run:    u.UpdateOnce,
		}},
		Session:  calendar.Session{StartHour: 0, EndHour: 24},
		GapCheck: u.GapCheck,
	}
	if err := loop.Run(ctx); err != nil {
		if ctx.Err() != nil {
			logx.Info("shutdown signal received, stopping")
			return 0
		}
		logx.Errorf("daily open interest loop: %v", err)
		return 1
	}
	return 0
}
