package cli

import (
	"fmt"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"github.com/Va3elina/moex-aggregator/internal/config"
)

// SetupLogging applies the configured logx settings. Collectors run
// under cron and systemd, so plain console output is the default.
func SetupLogging(cfg *config.Config) error {
	lc := cfg.Log
	if lc.Encoding == "" {
		lc.Encoding = "plain"
	}
	return logx.SetUp(lc)
}

// ConfigSummaryLines returns human readable lines describing the loaded config.
func ConfigSummaryLines(cfg *config.Config) []string {
	if cfg == nil {
		return []string{"Configuration: <nil>"}
	}

	tickers := 0
	universeSource := "built-in"
	if cfg.Universe.Value != nil {
		tickers = len(cfg.Universe.Value.OITickers)
	}
	if cfg.Universe.File != "" {
		universeSource = cfg.Universe.File
	}

	return []string{
		fmt.Sprintf("Environment: %s", cfg.Env),
		fmt.Sprintf("Postgres: %s", presence(strings.TrimSpace(cfg.Postgres.DSN) != "")),
		fmt.Sprintf("Algopack token: %s", presence(strings.TrimSpace(cfg.Algopack.Token) != "")),
		fmt.Sprintf("Algopack page limit: %d", cfg.Algopack.PageLimit),
		fmt.Sprintf("OI universe: %d tickers (%s)", tickers, universeSource),
	}
}

// LogConfigSummary emits the configuration summary using logx.
func LogConfigSummary(cfg *config.Config) {
	lines := ConfigSummaryLines(cfg)
	if len(lines) == 0 {
		return
	}
	logx.Info("configuration summary")
	for _, line := range lines {
		logx.Infof("config - %s", line)
	}
}

func presence(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}
