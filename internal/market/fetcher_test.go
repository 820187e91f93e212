package market

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"hantu-quant/internal/alert"
	"hantu-quant/pkg/types"
)

// scriptedGetter returns a fixed outcome per code and counts attempts.
type scriptedGetter struct {
	mu       sync.Mutex
	errs     map[string]error
	attempts map[string]int
}

func newScriptedGetter(errs map[string]error) *scriptedGetter {
	return &scriptedGetter{errs: errs, attempts: make(map[string]int)}
}

func (g *scriptedGetter) GetCurrentPrice(ctx context.Context, code string) (types.PriceData, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.attempts[code]++
	if err := g.errs[code]; err != nil {
		return types.PriceData{}, err
	}
	return types.PriceData{Code: code, CurrentPrice: 1000, FetchedAt: time.Now()}, nil
}

func (g *scriptedGetter) count(code string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attempts[code]
}

func newTestFetcher(g PriceGetter) *BatchFetcher {
	f := NewBatchFetcher(g, 5, zerolog.Nop())
	f.ChunkPause = time.Millisecond
	return f
}

// Every input code lands in exactly one of successful or failed, and the
// two sets never overlap.
func TestBatchCompleteness(t *testing.T) {
	t.Parallel()
	getter := newScriptedGetter(map[string]error{
		"005930": alert.NewError(alert.KindRateLimit, "EGW00201", "rate limited", nil),
		"035720": alert.NewError(alert.KindBrokerLogic, "APBK0013", "no such symbol", nil),
	})
	f := newTestFetcher(getter)

	codes := []string{"005930", "000660", "035720"}
	result := f.FetchPrices(context.Background(), codes)

	if got := result.SuccessCount() + result.FailureCount(); got != len(codes) {
		t.Fatalf("accounted codes = %d, want %d", got, len(codes))
	}
	if _, ok := result.Successful["000660"]; !ok {
		t.Error("000660 missing from successful")
	}
	for _, fail := range result.Failed {
		if _, ok := result.Successful[fail.Code]; ok {
			t.Errorf("%s appears in both successful and failed", fail.Code)
		}
	}
	if rate := result.SuccessRate(); rate < 0.32 || rate > 0.34 {
		t.Errorf("SuccessRate = %v, want ≈ 1/3", rate)
	}
}

func TestRetryableFailuresRetryThreeTimes(t *testing.T) {
	t.Parallel()
	getter := newScriptedGetter(map[string]error{
		"005930": alert.NewError(alert.KindTransientNetwork, "", "timeout", nil),
	})
	f := newTestFetcher(getter)

	result := f.FetchPrices(context.Background(), []string{"005930"})
	if result.FailureCount() != 1 {
		t.Fatalf("failed = %d, want 1", result.FailureCount())
	}
	if got := getter.count("005930"); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestNonRetryableFailsFast(t *testing.T) {
	t.Parallel()
	getter := newScriptedGetter(map[string]error{
		"005930": alert.NewError(alert.KindBrokerLogic, "APBK0013", "rejected", nil),
	})
	f := newTestFetcher(getter)

	result := f.FetchPrices(context.Background(), []string{"005930"})
	if result.FailureCount() != 1 {
		t.Fatalf("failed = %d, want 1", result.FailureCount())
	}
	if got := getter.count("005930"); got != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on broker rejection)", got)
	}
}

func TestDuplicateCodesFetchedOnce(t *testing.T) {
	t.Parallel()
	getter := newScriptedGetter(nil)
	f := newTestFetcher(getter)

	result := f.FetchPrices(context.Background(), []string{"005930", "005930", "005930"})
	if result.SuccessCount() != 1 {
		t.Errorf("successful = %d, want 1", result.SuccessCount())
	}
	if got := getter.count("005930"); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestCancelledContextAccountsRemainder(t *testing.T) {
	t.Parallel()
	getter := newScriptedGetter(nil)
	f := newTestFetcher(getter)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	codes := []string{"005930", "000660", "035720"}
	result := f.FetchPrices(ctx, codes)
	if got := result.SuccessCount() + result.FailureCount(); got != len(codes) {
		t.Errorf("accounted codes = %d, want %d", got, len(codes))
	}
	if result.FailureCount() != len(codes) {
		t.Errorf("failed = %d, want all %d after cancellation", result.FailureCount(), len(codes))
	}
}

func TestChunkingRespectsChunkSize(t *testing.T) {
	t.Parallel()
	getter := newScriptedGetter(nil)
	f := newTestFetcher(getter)
	f.ChunkSize = 2

	codes := []string{"000001", "000002", "000003", "000004", "000005"}
	result := f.FetchPrices(context.Background(), codes)
	if result.SuccessCount() != 5 {
		t.Errorf("successful = %d, want 5", result.SuccessCount())
	}
}
