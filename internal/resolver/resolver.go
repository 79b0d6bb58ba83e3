// Package resolver maps futures contract families to their currently
// active tradable contract, probing the exchange for real data.
package resolver

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/zeromicro/go-zero/core/collection"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/mr"

	"github.com/Va3elina/moex-aggregator/internal/calendar"
	"github.com/Va3elina/moex-aggregator/internal/model"
	"github.com/Va3elina/moex-aggregator/pkg/algopack"
)

const (
	cacheTTL = 6 * time.Hour
	cacheKey = "active-contracts"

	fastCandidates = 6
	fastLookback   = 14 * 24 * time.Hour
	deepCandidates = 10
	deepLookback   = 60 * 24 * time.Hour

	resolveWorkers = 5
)

// Month letters in exchange order, F=January through Z=December.
var (
	monthOrder = []rune("FGHJKMNQUVXZ")
	monthCodes = map[rune]int{
		'F': 1, 'G': 2, 'H': 3, 'J': 4, 'K': 5, 'M': 6,
		'N': 7, 'Q': 8, 'U': 9, 'V': 10, 'X': 11, 'Z': 12,
	}
)

// Contract is a resolved tradable futures contract.
type Contract struct {
	SecID      string // tradable identifier, e.g. SiU5
	FamilyCode string // identifier minus the year digit, stored on candle rows
	Name       string
	SecType    string
}

// Prober checks whether a candidate contract has traded recently.
type Prober interface {
	ProbeCandles(ctx context.Context, market algopack.Market, secid string, lookback time.Duration, now time.Time) (bool, int, error)
}

// InstrumentSource is the slice of the instruments model the resolver needs.
type InstrumentSource interface {
	FindFuturesFamilies(ctx context.Context) ([]model.FuturesFamily, error)
}

// Resolver finds active contracts and caches the result set.
type Resolver struct {
	instruments InstrumentSource
	prober      Prober
	cache       *collection.Cache
	now         func() time.Time
}

type Option func(*Resolver)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func New(instruments InstrumentSource, prober Prober, opts ...Option) (*Resolver, error) {
	cache, err := collection.NewCache(cacheTTL, collection.WithName("contracts"))
	if err != nil {
		return nil, err
	}
	r := &Resolver{
		instruments: instruments,
		prober:      prober,
		cache:       cache,
		now:         calendar.MoscowNow,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// ActiveContracts returns the active contract per family. Results are
// cached for 6 hours; concurrent callers share one resolution pass.
// Families that cannot be resolved are dropped and logged.
func (r *Resolver) ActiveContracts(ctx context.Context) ([]Contract, error) {
	v, err := r.cache.Take(cacheKey, func() (interface{}, error) {
		return r.resolveAll(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Contract), nil
}

// Invalidate drops the cached contract set so the next call re-resolves.
func (r *Resolver) Invalidate() {
	r.cache.Del(cacheKey)
}

func (r *Resolver) resolveAll(ctx context.Context) ([]Contract, error) {
	families, err := r.instruments.FindFuturesFamilies(ctx)
	if err != nil {
		return nil, err
	}

	var contracts []Contract
	var rotating []model.FuturesFamily
	for _, fam := range families {
		if fam.Perpetual != "" {
			contracts = append(contracts, Contract{
				SecID:      fam.Perpetual,
				FamilyCode: fam.Perpetual,
				Name:       fam.Name,
				SecType:    fam.SecType,
			})
		}
		if fam.Prefix != "" && fam.Perpetual == "" {
			rotating = append(rotating, fam)
		}
	}

	resolved, err := mr.MapReduce(func(source chan<- model.FuturesFamily) {
		for _, fam := range rotating {
			source <- fam
		}
	}, func(fam model.FuturesFamily, writer mr.Writer[Contract], cancel func(error)) {
		c, ok := r.resolveFamily(ctx, fam)
		if !ok {
			logx.WithContext(ctx).Errorf("resolver: no active contract for %s (prefix %s)", fam.SecType, fam.Prefix)
			return
		}
		writer.Write(c)
	}, func(pipe <-chan Contract, writer mr.Writer[[]Contract], cancel func(error)) {
		var out []Contract
		for c := range pipe {
			out = append(out, c)
		}
		writer.Write(out)
	}, mr.WithContext(ctx), mr.WithWorkers(resolveWorkers))
	if err != nil && !errors.Is(err, mr.ErrReduceNoOutput) {
		return nil, err
	}
	contracts = append(contracts, resolved...)

	sort.Slice(contracts, func(i, j int) bool { return contracts[i].SecType < contracts[j].SecType })
	logx.WithContext(ctx).Infof("resolver: %d active contracts (%d perpetual, %d of %d rotating)",
		len(contracts), len(contracts)-len(resolved), len(resolved), len(rotating))
	return contracts, nil
}

// resolveFamily runs the two-phase probe: a fast pass over the first 6
// candidates with a 14-day window, then a deep pass over the first 10
// with a 60-day window picking the nearest expiry among the hits.
func (r *Resolver) resolveFamily(ctx context.Context, fam model.FuturesFamily) (Contract, bool) {
	now := r.now()
	candidates := generateCandidates(fam.Prefix, now)

	for _, secid := range head(candidates, fastCandidates) {
		hit, _, err := r.prober.ProbeCandles(ctx, algopack.MarketFutures, secid, fastLookback, now)
		if err != nil {
			return Contract{}, false
		}
		if hit {
			return contractFor(secid, fam), true
		}
	}

	type scored struct {
		secid string
		year  int
		month int
	}
	var found []scored
	for _, secid := range head(candidates, deepCandidates) {
		hit, _, err := r.prober.ProbeCandles(ctx, algopack.MarketFutures, secid, deepLookback, now)
		if err != nil {
			return Contract{}, false
		}
		if hit {
			year, month := expiryKey(secid, now.Year())
			found = append(found, scored{secid: secid, year: year, month: month})
		}
	}
	if len(found) == 0 {
		return Contract{}, false
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].year != found[j].year {
			return found[i].year < found[j].year
		}
		return found[i].month < found[j].month
	})
	return contractFor(found[0].secid, fam), true
}

func contractFor(secid string, fam model.FuturesFamily) Contract {
	return Contract{
		SecID:      secid,
		FamilyCode: secid[:len(secid)-1],
		Name:       fam.Name,
		SecType:    fam.SecType,
	}
}

// generateCandidates orders contract identifiers by how likely they are
// to be the active one: remaining months of this year, all of next year,
// then this year's past months (spread contracts can outlive expiry).
func generateCandidates(prefix string, now time.Time) []string {
	yearDigit := byte('0' + now.Year()%10)
	nextYearDigit := byte('0' + (now.Year()+1)%10)
	currentMonth := int(now.Month())

	seen := make(map[string]struct{})
	var out []string
	add := func(secid string) {
		if _, ok := seen[secid]; ok {
			return
		}
		seen[secid] = struct{}{}
		out = append(out, secid)
	}

	for _, m := range monthOrder {
		if monthCodes[m] >= currentMonth {
			add(prefix + string(m) + string(yearDigit))
		}
	}
	for _, m := range monthOrder {
		add(prefix + string(m) + string(nextYearDigit))
	}
	for _, m := range monthOrder {
		add(prefix + string(m) + string(yearDigit))
	}
	return out
}

// expiryKey derives a sortable (year, month) from the identifier's last
// two runes. The single year digit is expanded within the current
// decade, shifting forward when it would land more than a year in the
// past. Unparseable identifiers sort last.
func expiryKey(secid string, currentYear int) (int, int) {
	runes := []rune(secid)
	if len(runes) < 2 {
		return 9999, 99
	}
	yearRune := runes[len(runes)-1]
	monthRune := runes[len(runes)-2]
	month, ok := monthCodes[monthRune]
	if !ok || yearRune < '0' || yearRune > '9' {
		return 9999, 99
	}
	year := (currentYear/10)*10 + int(yearRune-'0')
	if year < currentYear-1 {
		year += 10
	}
	return year, month
}

func head(s []string, n int) []string {
	if len(s) < n {
		return s
	}
	return s[:n]
}
