package svc

import (
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"github.com/Va3elina/moex-aggregator/internal/config"
	"github.com/Va3elina/moex-aggregator/internal/model"
	"github.com/Va3elina/moex-aggregator/internal/resolver"
	"github.com/Va3elina/moex-aggregator/internal/universe"
	"github.com/Va3elina/moex-aggregator/pkg/algopack"
	"github.com/Va3elina/moex-aggregator/pkg/moexiss"
)

// ServiceContext wires configuration, storage models and exchange
// clients for the collector binaries.
type ServiceContext struct {
	Config config.Config

	DBConn       sqlx.SqlConn
	Instruments  model.InstrumentsModel
	Candles      model.CandlesModel
	OpenInterest model.OpenInterestModel

	Algopack *algopack.Client
	ISS      *moexiss.Client
	Resolver *resolver.Resolver
	Universe *universe.Config
}

// NewServiceContext builds the shared context. Postgres is mandatory;
// the Algopack client is only built when a token is present, callers
// that need it must check Config.RequireAlgopack first.
func NewServiceContext(c config.Config) (*ServiceContext, error) {
	if err := c.RequirePostgres(); err != nil {
		return nil, err
	}

	conn := sqlx.NewSqlConn("pgx", c.Postgres.DSN)
	if db, err := conn.RawDB(); err == nil {
		db.SetMaxOpenConns(c.Postgres.MaxOpen)
		db.SetMaxIdleConns(c.Postgres.MaxIdle)
	}

	svc := &ServiceContext{
		Config:       c,
		DBConn:       conn,
		Instruments:  model.NewInstrumentsModel(conn),
		Candles:      model.NewCandlesModel(conn),
		OpenInterest: model.NewOpenInterestModel(conn),
		Universe:     c.Universe.Value,
	}
	if svc.Universe == nil {
		svc.Universe = universe.Default()
	}

	var issOpts []moexiss.Option
	if c.ISS.BaseURL != "" {
		issOpts = append(issOpts, moexiss.WithBaseURL(c.ISS.BaseURL))
	}
	svc.ISS = moexiss.NewClient(issOpts...)

	if c.Algopack.Token != "" {
		opts := []algopack.Option{
			algopack.WithPageLimit(c.Algopack.PageLimit),
			algopack.WithRateLimitRetry(c.Algopack.RateLimitRetries, c.RateLimitBackoffDuration()),
		}
		if c.Algopack.BaseURL != "" {
			opts = append(opts, algopack.WithBaseURL(c.Algopack.BaseURL))
		}
		svc.Algopack = algopack.NewClient(c.Algopack.Token, opts...)

		r, err := resolver.New(svc.Instruments, svc.Algopack)
		if err != nil {
			return nil, fmt.Errorf("init resolver: %w", err)
		}
		svc.Resolver = r
	}

	return svc, nil
}
