package scrape

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/court-case-scraper/internal/court"
)

type countingLimiter struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (l *countingLimiter) Wait(_ context.Context, url string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.urls = append(l.urls, url)
	return l.err
}

func summariesWithRefs(n int) []court.CaseSummaryRecord {
	out := make([]court.CaseSummaryRecord, n)
	for i := range out {
		out[i] = court.CaseSummaryRecord{
			SerialNo:        fmt.Sprint(i + 1),
			DetailReference: fmt.Sprintf("https://court.example/d/%d", i+1),
		}
	}
	return out
}

func TestEnrichKeepsOrderAndIsolatesFailures(t *testing.T) {
	t.Parallel()

	detail := func(_ context.Context, _ court.Arena, ref string) (court.CaseDetail, error) {
		if ref == "https://court.example/d/2" {
			return court.CaseDetail{}, court.NewError(court.KindReadinessExhausted, "poll detail table", nil)
		}
		return court.CaseDetail{DetailReference: ref, Orders: []court.OrderRecord{}}, nil
	}
	in := summariesWithRefs(3)
	in = append(in, court.CaseSummaryRecord{SerialNo: "4"})
	e := NewEnricher(detail, 3, nil, zap.NewNop())

	out := e.Enrich(context.Background(), nil, in)

	require.Len(t, out, 4)
	for i, rec := range out {
		require.Equal(t, fmt.Sprint(i+1), rec.SerialNo)
	}
	require.Equal(t, "https://court.example/d/1", out[0].Detail.DetailReference)
	require.Nil(t, out[1].Detail)
	require.Equal(t, court.Describe(court.ErrReadinessExhausted), out[1].DetailError)
	require.NotNil(t, out[2].Detail)
	require.Nil(t, out[3].Detail)
	require.Empty(t, out[3].DetailError)
	require.Nil(t, in[0].Detail, "input must not be mutated")
}

func TestEnrichRespectsConcurrency(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	detail := func(context.Context, court.Arena, string) (court.CaseDetail, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return court.CaseDetail{}, nil
	}
	e := NewEnricher(detail, 2, nil, nil)

	out := e.Enrich(context.Background(), nil, summariesWithRefs(8))

	require.Len(t, out, 8)
	require.LessOrEqual(t, peak.Load(), int32(2))
	require.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestEnrichSequentialByDefault(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	detail := func(context.Context, court.Arena, string) (court.CaseDetail, error) {
		n := inFlight.Add(1)
		if n > peak.Load() {
			peak.Store(n)
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		return court.CaseDetail{}, nil
	}
	e := NewEnricher(detail, 0, nil, nil)
	e.Enrich(context.Background(), nil, summariesWithRefs(4))
	require.Equal(t, int32(1), peak.Load())
}

func TestEnrichUsesLimiter(t *testing.T) {
	t.Parallel()

	limiter := &countingLimiter{}
	detail := func(context.Context, court.Arena, string) (court.CaseDetail, error) {
		return court.CaseDetail{}, nil
	}
	e := NewEnricher(detail, 1, limiter, nil)
	e.Enrich(context.Background(), nil, summariesWithRefs(3))

	require.Equal(t, []string{
		"https://court.example/d/1",
		"https://court.example/d/2",
		"https://court.example/d/3",
	}, limiter.urls)
}

func TestEnrichLimiterErrorBecomesDetailError(t *testing.T) {
	t.Parallel()

	limiter := &countingLimiter{err: errors.New("rate limit wait: context canceled")}
	called := false
	detail := func(context.Context, court.Arena, string) (court.CaseDetail, error) {
		called = true
		return court.CaseDetail{}, nil
	}
	e := NewEnricher(detail, 1, limiter, nil)
	out := e.Enrich(context.Background(), nil, summariesWithRefs(1))

	require.False(t, called)
	require.NotEmpty(t, out[0].DetailError)
}
