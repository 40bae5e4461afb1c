package scrape

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/court-case-scraper/internal/court"
	"github.com/JakeFAU/court-case-scraper/internal/metrics"
)

// DetailFunc fetches one case's orders page using a session from arena.
type DetailFunc func(ctx context.Context, arena court.Arena, ref string) (court.CaseDetail, error)

// Limiter throttles requests per host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Enricher attaches case details to summary records, at most concurrency at a
// time. A failed detail never affects its siblings.
type Enricher struct {
	detail      DetailFunc
	concurrency int
	limiter     Limiter
	logger      *zap.Logger
}

// NewEnricher builds an Enricher. A concurrency below one means sequential.
func NewEnricher(detail DetailFunc, concurrency int, limiter Limiter, logger *zap.Logger) *Enricher {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{
		detail:      detail,
		concurrency: concurrency,
		limiter:     limiter,
		logger:      logger,
	}
}

// Enrich returns a copy of summaries, in the same order, with Detail set for
// every row whose detail page was read and DetailError set for every row whose
// page failed. Rows without a reference are returned untouched.
func (e *Enricher) Enrich(ctx context.Context, arena court.Arena, summaries []court.CaseSummaryRecord) []court.CaseSummaryRecord {
	out := make([]court.CaseSummaryRecord, len(summaries))
	copy(out, summaries)

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i := range out {
		if !out[i].HasDetailReference() {
			continue
		}
		g.Go(func() error {
			ref := out[i].DetailReference
			detail, err := e.fetch(ctx, arena, ref)
			if err != nil {
				out[i].DetailError = court.Describe(err)
				metrics.ObserveDetail("failed")
				e.logger.Warn("detail enrichment failed",
					zap.String("serial_no", out[i].SerialNo),
					zap.String("detail_ref", ref),
					zap.String("cause", string(court.KindOf(err))),
					zap.Error(err),
				)
				return nil
			}
			out[i].Detail = &detail
			metrics.ObserveDetail("ok")
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (e *Enricher) fetch(ctx context.Context, arena court.Arena, ref string) (court.CaseDetail, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, ref); err != nil {
			return court.CaseDetail{}, err
		}
	}
	return e.detail(ctx, arena, ref)
}
