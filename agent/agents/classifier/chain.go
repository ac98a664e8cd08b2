package classifier

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/contract"
)

// DefaultMinConfidence is the confidence below which the fallback is consulted.
const DefaultMinConfidence = 0.4

// Chain asks Primary first and answers from Fallback when Primary fails,
// returns something unusable or is not confident enough.
type Chain struct {
	primary       contractx.IntentClassifier
	fallback      contractx.IntentClassifier
	minConfidence float64
	logger        zerolog.Logger
}

var _ contractx.IntentClassifier = (*Chain)(nil)

type ChainOption func(*Chain)

func WithMinConfidence(v float64) ChainOption {
	return func(c *Chain) {
		if v > 0 && v <= 1 {
			c.minConfidence = v
		}
	}
}

func WithLogger(l zerolog.Logger) ChainOption {
	return func(c *Chain) { c.logger = l }
}

// NewChain builds a chain. A nil primary means the fallback answers alone; a nil
// fallback defaults to Heuristic.
func NewChain(primary, fallback contractx.IntentClassifier, opts ...ChainOption) *Chain {
	if fallback == nil {
		fallback = Heuristic{}
	}
	c := &Chain{
		primary:       primary,
		fallback:      fallback,
		minConfidence: DefaultMinConfidence,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Chain) Classify(ctx context.Context, req contractx.ClassifyRequest) (contractx.VendorIntent, error) {
	if c.primary == nil {
		return c.fallback.Classify(ctx, req)
	}

	out, err := c.primary.Classify(ctx, req)
	switch {
	case err != nil:
		c.logger.Warn().Err(err).Msg("primary classifier failed, using fallback")
	case !out.Intent.Valid():
		c.logger.Warn().Str("intent", string(out.Intent)).Msg("primary classifier returned unknown intent, using fallback")
	case out.Confidence < c.minConfidence:
		c.logger.Debug().Float64("confidence", out.Confidence).Msg("primary classifier not confident, using fallback")
	default:
		return out, nil
	}

	fb, ferr := c.fallback.Classify(ctx, req)
	if ferr != nil {
		if err != nil {
			return contractx.VendorIntent{}, fmt.Errorf("fallback classifier: %w (primary: %v)", ferr, err)
		}
		return contractx.VendorIntent{}, fmt.Errorf("fallback classifier: %w", ferr)
	}
	return fb, nil
}
