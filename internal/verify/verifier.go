// Package verify performs the live tracker fetches the policy enforcer
// routes volatile turns through. Every record it produces is scoped to the
// current turn; nothing is cached, because freshness is the point.
package verify

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/jirascope/jirascope/internal/telemetry"
	"github.com/jirascope/jirascope/internal/types"
)

// LiveSource fetches an issue's current volatile fields from the tracker.
type LiveSource interface {
	GetFields(ctx context.Context, key string) (map[string]string, error)
}

// Verifier fans live fetches out over the flagged issue keys.
type Verifier struct {
	Live LiveSource
	// Timeout bounds each individual fetch. A fetch that exceeds it is a
	// failure for that key, never a silent success.
	Timeout time.Duration
	// Concurrency bounds parallel fetches (tracker rate limits).
	Concurrency int
}

var verifyMetrics struct {
	fetches  metric.Int64Counter
	duration metric.Float64Histogram
}

var verifyMetricsOnce sync.Once

func initVerifyMetrics() {
	m := telemetry.Meter("github.com/jirascope/jirascope/verify")
	verifyMetrics.fetches, _ = m.Int64Counter("jirascope.verify.fetches",
		metric.WithDescription("Live verification fetches"),
	)
	verifyMetrics.duration, _ = m.Float64Histogram("jirascope.verify.duration",
		metric.WithDescription("Live verification fetch duration in milliseconds"),
		metric.WithUnit("ms"),
	)
}

// VerifyAll fetches every key concurrently and waits for all of them. A
// failed fetch yields a failure record for that key; it never aborts the
// other fetches or the turn.
func (v *Verifier) VerifyAll(ctx context.Context, keys []string) map[string]*types.VerificationRecord {
	verifyMetricsOnce.Do(initVerifyMetrics)

	records := make(map[string]*types.VerificationRecord, len(keys))
	if len(keys) == 0 {
		return records
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	limit := v.Concurrency
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)

	for _, key := range keys {
		g.Go(func() error {
			rec := v.VerifyOne(ctx, key)
			mu.Lock()
			records[key] = rec
			mu.Unlock()
			return nil
		})
	}

	// Workers only record outcomes; the turn degrades per key instead of
	// failing wholesale.
	_ = g.Wait()
	return records
}

// VerifyOne performs a single live fetch and normalizes the outcome.
func (v *Verifier) VerifyOne(ctx context.Context, key string) *types.VerificationRecord {
	verifyMetricsOnce.Do(initVerifyMetrics)

	if v.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.Timeout)
		defer cancel()
	}

	rec := &types.VerificationRecord{
		IssueKey:  key,
		FetchedAt: time.Now(),
	}

	t0 := time.Now()
	fields, err := v.Live.GetFields(ctx, key)
	ms := float64(time.Since(t0).Milliseconds())

	outcome := "ok"
	if err != nil {
		rec.Outcome = types.VerifyFailed
		rec.Error = err.Error()
		outcome = "failed"
	} else {
		rec.Outcome = types.VerifyOK
		rec.Fields = fields
	}

	if verifyMetrics.fetches != nil {
		attrs := metric.WithAttributes(attribute.String("jirascope.verify.outcome", outcome))
		verifyMetrics.fetches.Add(ctx, 1, attrs)
		verifyMetrics.duration.Record(ctx, ms, attrs)
	}

	return rec
}
