package research

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/contract"
	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/pkg/phone"
)

const DefaultMaxVendors = 5

// Searcher serves vendor search and market research from a Directory.
type Searcher struct {
	dir    *Directory
	region string
	logger zerolog.Logger
}

var (
	_ contractx.VendorSearcher   = (*Searcher)(nil)
	_ contractx.MarketResearcher = (*Searcher)(nil)
)

// NewSearcher builds a searcher. phoneRegion is the default region used to
// normalise vendor numbers without a country code.
func NewSearcher(dir *Directory, phoneRegion string, logger zerolog.Logger) *Searcher {
	if dir == nil {
		dir = &Directory{}
	}
	return &Searcher{dir: dir, region: phoneRegion, logger: logger}
}

// Search returns the matching vendors ranked by rating, then distance.
// Vendors without a dialable number are skipped.
func (s *Searcher) Search(_ context.Context, req statex.Requirements) ([]statex.Vendor, error) {
	out := make([]statex.Vendor, 0, len(s.dir.Vendors))
	for _, v := range s.dir.Vendors {
		if req.Service != "" && v.Service != "" && !sameFold(v.Service, req.Service) {
			continue
		}
		if req.Region != "" && v.City != "" && !sameFold(v.City, req.Region) {
			continue
		}
		number, err := phone.NormalizeE164(v.Phone, s.region)
		if err != nil {
			s.logger.Warn().Err(err).Str("vendor_id", v.ID).Msg("skipping vendor with invalid phone")
			continue
		}
		v.Phone = number
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no vendor for %s in %s", contractx.ErrVendorsUnavailable, req.Service, req.Region)
	}

	Rank(out)
	limit := req.MaxVendors
	if limit <= 0 {
		limit = DefaultMaxVendors
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Rank orders vendors by rating descending, then distance ascending. Ties
// keep the busier vendor first and then sort by id so the order is stable.
func Rank(vendors []statex.Vendor) {
	sort.SliceStable(vendors, func(i, j int) bool {
		a, b := vendors[i], vendors[j]
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		if a.ReviewCount != b.ReviewCount {
			return a.ReviewCount > b.ReviewCount
		}
		return a.ID < b.ID
	})
}

var errNoMarketData = errors.New("no market data")

// MarketRange prefers a directory fare band for the service and region and
// otherwise derives one from the vendors' listed prices. Without any data it
// returns the zero range, which disables market comparison.
func (s *Searcher) MarketRange(_ context.Context, req statex.Requirements, vendors []statex.Vendor) (statex.MarketRange, error) {
	if m, ok := s.lookupMarket(req); ok {
		return m, nil
	}
	m, err := rangeFromListings(vendors)
	if errors.Is(err, errNoMarketData) {
		s.logger.Info().Str("service", req.Service).Str("region", req.Region).Msg("no market data, negotiating without range")
		return statex.MarketRange{}, nil
	}
	return m, err
}

func (s *Searcher) lookupMarket(req statex.Requirements) (statex.MarketRange, bool) {
	var fallback *MarketEntry
	for i, m := range s.dir.Markets {
		if !sameFold(m.Service, req.Service) {
			continue
		}
		if sameFold(m.Region, req.Region) {
			return statex.MarketRange{Low: m.Low, Mid: m.Mid, High: m.High}, true
		}
		if strings.TrimSpace(m.Region) == "" && fallback == nil {
			fallback = &s.dir.Markets[i]
		}
	}
	if fallback != nil {
		return statex.MarketRange{Low: fallback.Low, Mid: fallback.Mid, High: fallback.High}, true
	}
	return statex.MarketRange{}, false
}

// rangeFromListings takes the lower and upper quartile of listed prices as the
// band and the median as its midpoint.
func rangeFromListings(vendors []statex.Vendor) (statex.MarketRange, error) {
	prices := make([]float64, 0, len(vendors))
	for _, v := range vendors {
		if v.ListedPrice > 0 {
			prices = append(prices, v.ListedPrice)
		}
	}
	if len(prices) == 0 {
		return statex.MarketRange{}, errNoMarketData
	}
	sort.Float64s(prices)
	return statex.MarketRange{
		Low:  quantile(prices, 0.25),
		Mid:  quantile(prices, 0.5),
		High: quantile(prices, 0.75),
	}, nil
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	frac := pos - float64(lo)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
