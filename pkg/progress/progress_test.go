package progress

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/solwatch/mintwatch/pkg/governor"
)

const testMint = "So11111111111111111111111111111111111111112"

func newTestSource(t *testing.T, baseURL string, targetSol float64) *MarketSource {
	t.Helper()
	cfg := governor.DefaultConfig()
	cfg.RequestDelay = time.Millisecond
	cfg.MaxRequestDelay = 10 * time.Millisecond
	cfg.BackoffBase = time.Millisecond
	cfg.JitterRange = 0
	cfg.MaxRetries = 1

	gov, err := governor.New([]string{"http://localhost:1"}, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	source, err := NewMarketSource(gov, baseURL, testMint, targetSol, zaptest.NewLogger(t))
	require.NoError(t, err)
	return source
}

func pairsResponse(pairs ...map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"pairs": pairs}
}

func solPair(marketCap, volume, liquidity float64) map[string]interface{} {
	return map[string]interface{}{
		"quoteToken": map[string]interface{}{"symbol": "SOL"},
		"marketCap":  marketCap,
		"volume":     map[string]interface{}{"h24": volume},
		"liquidity":  map[string]interface{}{"quote": liquidity},
	}
}

func TestSampleComputesProgress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/"+testMint, r.URL.Path)
		json.NewEncoder(w).Encode(pairsResponse(solPair(4250, 1200.5, 90)))
	}))
	defer server.Close()

	source := newTestSource(t, server.URL, 5000)
	sample, err := source.Sample(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 85.0, sample.ProgressPercent, 0.001)
	assert.InDelta(t, 1200.5, sample.SolVolume, 0.001)
}

func TestSamplePicksDeepestSolPair(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(pairsResponse(
			solPair(1000, 10, 5),
			map[string]interface{}{
				"quoteToken": map[string]interface{}{"symbol": "USDC"},
				"marketCap":  9999.0,
				"volume":     map[string]interface{}{"h24": 9999.0},
				"liquidity":  map[string]interface{}{"quote": 9999.0},
			},
			solPair(2500, 40, 80),
		))
	}))
	defer server.Close()

	source := newTestSource(t, server.URL, 5000)
	sample, err := source.Sample(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 50.0, sample.ProgressPercent, 0.001)
	assert.InDelta(t, 40.0, sample.SolVolume, 0.001)
}

func TestSampleNoSolPairIsUnavailable(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(pairsResponse())
	}))
	defer server.Close()

	source := newTestSource(t, server.URL, 5000)
	_, err := source.Sample(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)

	// Missing data is definitive, not retried.
	assert.Equal(t, 1, calls)
}

func TestSampleRetriesServerErrors(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(pairsResponse(solPair(5000, 100, 50)))
	}))
	defer server.Close()

	source := newTestSource(t, server.URL, 5000)
	sample, err := source.Sample(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 100.0, sample.ProgressPercent, 0.001)
	assert.Equal(t, 2, calls)
}

func TestNewMarketSourceValidation(t *testing.T) {
	gov, err := governor.New([]string{"http://localhost:1"}, governor.DefaultConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = NewMarketSource(gov, "", testMint, 0, zaptest.NewLogger(t))
	assert.Error(t, err)

	_, err = NewMarketSource(gov, "", "bogus", 5000, zaptest.NewLogger(t))
	assert.Error(t, err)
}
