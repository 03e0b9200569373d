// Package progress samples external market data to derive how far a
// token has moved toward its SOL market-cap target. The sample drives
// the adaptive snapshot cadence.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/solwatch/mintwatch/internal/types"
	"github.com/solwatch/mintwatch/pkg/governor"
)

// ErrUnavailable is returned when the upstream responded but carried
// no usable SOL-quoted market data for the token.
var ErrUnavailable = errors.New("market data unavailable")

// Source produces progress samples for the scheduler.
type Source interface {
	Sample(ctx context.Context) (types.ProgressSample, error)
}

// maxBodySize bounds market API response bodies.
const maxBodySize = 4 << 20

// DefaultBaseURL is the public token-pairs endpoint queried per mint.
const DefaultBaseURL = "https://api.dexscreener.com/latest/dex/tokens"

// MarketSource samples a DEX aggregator API for SOL-quoted pair data.
// Requests run through the governor so market polling shares the same
// pacing, retry, and circuit-breaker discipline as the RPC traffic.
type MarketSource struct {
	gov       *governor.Governor
	client    *http.Client
	baseURL   string
	mint      string
	targetSol float64
	logger    *zap.Logger
}

// NewMarketSource creates a progress source for the given mint and
// SOL market-cap target. baseURL may be empty to use the default.
func NewMarketSource(gov *governor.Governor, baseURL, mint string, targetSol float64, logger *zap.Logger) (*MarketSource, error) {
	if targetSol <= 0 {
		return nil, fmt.Errorf("target market cap must be positive, got %f", targetSol)
	}
	if err := types.ValidateAddress(mint); err != nil {
		return nil, fmt.Errorf("token mint: %w", err)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarketSource{
		gov:       gov,
		client:    &http.Client{Timeout: 30 * time.Second},
		baseURL:   strings.TrimRight(baseURL, "/"),
		mint:      mint,
		targetSol: targetSol,
		logger:    logger,
	}, nil
}

// pairData is the subset of the pairs response we consume.
type pairData struct {
	QuoteToken struct {
		Symbol string `json:"symbol"`
	} `json:"quoteToken"`
	Volume struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
	MarketCap float64 `json:"marketCap"`
	Liquidity struct {
		Quote float64 `json:"quote"`
	} `json:"liquidity"`
}

// Sample fetches the current SOL-quoted pair stats and converts them
// into a progress sample. A response without a SOL pair yields
// ErrUnavailable without consuming retry budget.
func (s *MarketSource) Sample(ctx context.Context) (types.ProgressSample, error) {
	var sample types.ProgressSample

	err := s.gov.Do(ctx, "market-data", func(ctx context.Context) error {
		pair, err := s.fetchSolPair(ctx)
		if err != nil {
			return err
		}

		sample = types.ProgressSample{
			SolVolume:       pair.Volume.H24,
			ProgressPercent: pair.MarketCap / s.targetSol * 100,
		}
		return nil
	})
	if err != nil {
		return types.ProgressSample{}, err
	}

	s.logger.Debug("sampled market progress",
		zap.Float64("sol_volume", sample.SolVolume),
		zap.Float64("progress_percent", sample.ProgressPercent))
	return sample, nil
}

func (s *MarketSource) fetchSolPair(ctx context.Context) (*pairData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/"+s.mint, nil)
	if err != nil {
		return nil, governor.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &governor.RPCError{Code: http.StatusTooManyRequests, Message: "market API rate limited"}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("market API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read market response: %w", err)
	}

	var payload struct {
		Pairs []pairData `json:"pairs"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal market response: %w", err)
	}

	// Pick the deepest SOL-quoted pair. Other quote currencies are
	// ignored since the target is denominated in SOL.
	var best *pairData
	for i := range payload.Pairs {
		pair := &payload.Pairs[i]
		if pair.QuoteToken.Symbol != "SOL" {
			continue
		}
		if best == nil || pair.Liquidity.Quote > best.Liquidity.Quote {
			best = pair
		}
	}
	if best == nil {
		return nil, governor.Permanent(ErrUnavailable)
	}
	return best, nil
}
