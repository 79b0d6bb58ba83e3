package cli

import (
	"github.com/Va3elina/moex-aggregator/internal/config"
	"github.com/Va3elina/moex-aggregator/internal/svc"
)

// Bootstrap loads configuration, applies logging settings and builds
// the shared service context. Every collector binary starts here.
func Bootstrap(configPath string) (*svc.ServiceContext, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := SetupLogging(cfg); err != nil {
		return nil, err
	}
	LogConfigSummary(cfg)
	return svc.NewServiceContext(*cfg)
}
