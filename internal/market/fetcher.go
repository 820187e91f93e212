// Package market implements bulk market-data retrieval on top of the REST
// client. The batch fetcher turns a symbol list into a BatchResult: every
// input code ends up in exactly one of Successful or Failed, and partial
// failure is a normal outcome rather than an error.
package market

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"hantu-quant/internal/alert"
	"hantu-quant/internal/metrics"
	"hantu-quant/pkg/types"
)

// PriceGetter is the slice of the REST client the fetcher needs.
type PriceGetter interface {
	GetCurrentPrice(ctx context.Context, code string) (types.PriceData, error)
}

const (
	defaultAttempts   = 3
	defaultChunkPause = 200 * time.Millisecond
	retryPause        = 500 * time.Millisecond
)

// BatchFetcher fetches current prices for many symbols.
//
// Symbols are processed in chunks of ChunkSize with a short pause between
// chunks; within a chunk, Concurrency workers run in parallel. The REST
// client's own limiter is the real admission control — the chunking only
// keeps burst shape predictable. Each symbol gets up to Attempts tries
// before it is recorded as failed.
type BatchFetcher struct {
	client PriceGetter
	logger zerolog.Logger

	ChunkSize   int
	Concurrency int
	Attempts    int
	ChunkPause  time.Duration
}

// NewBatchFetcher builds a fetcher. chunkSize normally matches the rate
// limiter's per-second budget; pass 0 to use 5.
func NewBatchFetcher(client PriceGetter, chunkSize int, logger zerolog.Logger) *BatchFetcher {
	if chunkSize <= 0 {
		chunkSize = 5
	}
	return &BatchFetcher{
		client:      client,
		logger:      logger.With().Str("component", "batch_fetcher").Logger(),
		ChunkSize:   chunkSize,
		Concurrency: 1,
		Attempts:    defaultAttempts,
		ChunkPause:  defaultChunkPause,
	}
}

// FetchPrices retrieves current prices for all codes. Duplicate codes are
// fetched once. Cancellation stops new work; codes not yet attempted are
// recorded as failed with the context error.
func (f *BatchFetcher) FetchPrices(ctx context.Context, codes []string) types.BatchResult {
	start := time.Now()
	result := types.BatchResult{Successful: make(map[string]types.PriceData)}

	seen := make(map[string]bool, len(codes))
	unique := make([]string, 0, len(codes))
	for _, code := range codes {
		if !seen[code] {
			seen[code] = true
			unique = append(unique, code)
		}
	}

	type outcome struct {
		code  string
		price types.PriceData
		err   error
	}

	for chunkStart := 0; chunkStart < len(unique); chunkStart += f.ChunkSize {
		end := chunkStart + f.ChunkSize
		if end > len(unique) {
			end = len(unique)
		}
		chunk := unique[chunkStart:end]

		if ctx.Err() != nil {
			for _, code := range unique[chunkStart:] {
				result.Failed = append(result.Failed, types.BatchFailure{Code: code, Message: ctx.Err().Error()})
			}
			break
		}
		if chunkStart > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(f.ChunkPause):
			}
		}

		outcomes := make([]outcome, len(chunk))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(f.concurrency())
		for i, code := range chunk {
			i, code := i, code
			g.Go(func() error {
				price, err := f.fetchOne(gctx, code)
				outcomes[i] = outcome{code: code, price: price, err: err}
				return nil
			})
		}
		_ = g.Wait() // workers report via outcomes, never abort the group

		for _, o := range outcomes {
			if o.err != nil {
				result.Failed = append(result.Failed, types.BatchFailure{Code: o.code, Message: o.err.Error()})
				metrics.BatchSymbols.WithLabelValues("failed").Inc()
				continue
			}
			result.Successful[o.code] = o.price
			metrics.BatchSymbols.WithLabelValues("ok").Inc()
		}
	}

	result.TotalTime = time.Since(start)
	f.logger.Info().
		Int("requested", len(unique)).
		Int("succeeded", result.SuccessCount()).
		Int("failed", result.FailureCount()).
		Dur("elapsed", result.TotalTime).
		Msg("batch price fetch complete")
	return result
}

// fetchOne tries a single symbol up to Attempts times. Non-retryable
// broker errors fail immediately; retryable ones get a short pause (the
// client has already applied its own classified backoff).
func (f *BatchFetcher) fetchOne(ctx context.Context, code string) (types.PriceData, error) {
	var lastErr error
	for attempt := 1; attempt <= f.attempts(); attempt++ {
		price, err := f.client.GetCurrentPrice(ctx, code)
		if err == nil {
			return price, nil
		}
		lastErr = err
		if !alert.IsRetryable(err) || ctx.Err() != nil {
			break
		}
		if attempt < f.attempts() {
			select {
			case <-ctx.Done():
				return types.PriceData{}, ctx.Err()
			case <-time.After(retryPause):
			}
		}
	}
	return types.PriceData{}, lastErr
}

func (f *BatchFetcher) concurrency() int {
	if f.Concurrency <= 0 {
		return 1
	}
	return f.Concurrency
}

func (f *BatchFetcher) attempts() int {
	if f.Attempts <= 0 {
		return defaultAttempts
	}
	return f.Attempts
}
