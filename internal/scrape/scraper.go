package scrape

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/court-case-scraper/internal/court"
	"github.com/JakeFAU/court-case-scraper/internal/metrics"
)

const tracerName = "github.com/JakeFAU/court-case-scraper/internal/scrape"

// Options configures a Scraper.
type Options struct {
	EntryURL          string
	DetailPattern     string
	Selectors         Selectors
	NavTimeout        time.Duration
	ChallengeTimeout  time.Duration
	SettleDelay       time.Duration
	Poll              Budget
	FanoutConcurrency int
}

// ResultSink receives every finished scrape.
type ResultSink interface {
	Deliver(ctx context.Context, result court.ScrapeResult) court.ScrapeResult
}

// CaseTypeLister lists case types without a browser.
type CaseTypeLister interface {
	List(ctx context.Context) ([]string, error)
}

// Deps are the collaborators of a Scraper. Sink, Limiter and CaseTypes are
// optional.
type Deps struct {
	Browser   court.Browser
	Clock     court.Clock
	IDs       court.IDGenerator
	Sink      ResultSink
	Limiter   Limiter
	CaseTypes CaseTypeLister
	Logger    *zap.Logger
}

// Scraper runs the case-status pipeline. It is safe for concurrent use; each
// call owns its own browser arena.
type Scraper struct {
	opts      Options
	browser   court.Browser
	clock     court.Clock
	ids       court.IDGenerator
	sink      ResultSink
	caseTypes CaseTypeLister
	enricher  *Enricher
	logger    *zap.Logger
	tracer    trace.Tracer
	entryHost string
}

// New validates options and builds a Scraper.
func New(opts Options, deps Deps) (*Scraper, error) {
	if deps.Browser == nil {
		return nil, errors.New("browser is required")
	}
	if deps.Clock == nil || deps.IDs == nil {
		return nil, errors.New("clock and id generator are required")
	}
	entry, err := url.Parse(opts.EntryURL)
	if err != nil || entry.Host == "" {
		return nil, fmt.Errorf("entry url %q must be absolute", opts.EntryURL)
	}
	if opts.Poll.MaxAttempts <= 0 {
		return nil, errors.New("poll max attempts must be > 0")
	}
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = 60 * time.Second
	}
	if opts.ChallengeTimeout <= 0 {
		opts.ChallengeTimeout = 30 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scraper{
		opts:      opts,
		browser:   deps.Browser,
		clock:     deps.Clock,
		ids:       deps.IDs,
		sink:      deps.Sink,
		caseTypes: deps.CaseTypes,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
		entryHost: strings.ToLower(entry.Hostname()),
	}
	s.enricher = NewEnricher(s.fetchDetail, opts.FanoutConcurrency, deps.Limiter, logger.Named("fanout"))
	return s, nil
}

// FetchCaseData runs the whole pipeline for one query. It never returns an
// error: failures are reported through the result's outcome and cause.
func (s *Scraper) FetchCaseData(ctx context.Context, query court.CaseQuery) court.ScrapeResult {
	start := s.clock.Now()
	res := court.ScrapeResult{
		Query:     query.Normalize(),
		StartedAt: start,
		Summaries: []court.CaseSummaryRecord{},
	}
	id, err := s.ids.NewID()
	if err != nil {
		s.logger.Warn("generate result id failed", zap.Error(err))
	}
	res.ID = id

	ctx, span := s.tracer.Start(ctx, "scrape.FetchCaseData", trace.WithAttributes(
		attribute.String("case.type", res.Query.CaseType),
		attribute.String("case.number", res.Query.CaseNumber),
		attribute.String("case.year", res.Query.FilingYear),
	))
	defer span.End()

	logger := s.logger.With(
		zap.String("result_id", res.ID),
		zap.String("case_type", res.Query.CaseType),
		zap.String("case_number", res.Query.CaseNumber),
		zap.String("filing_year", res.Query.FilingYear),
	)

	if err := s.scrape(ctx, &res); err != nil {
		res.Fail(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(res.Cause))
		logger.Warn("case scrape failed", zap.String("cause", string(res.Cause)), zap.Error(err))
	} else {
		logger.Info("case scrape finished",
			zap.String("outcome", string(res.Outcome)),
			zap.Int("summaries", len(res.Summaries)),
			zap.Int("details", res.DetailCount()),
		)
	}
	res.FinishedAt = s.clock.Now()
	span.SetAttributes(attribute.String("scrape.outcome", string(res.Outcome)))
	metrics.ObserveScrape(string(res.Outcome), string(res.Cause), res.FinishedAt.Sub(start))

	if s.sink != nil {
		return s.sink.Deliver(ctx, res)
	}
	return res
}

func (s *Scraper) scrape(ctx context.Context, res *court.ScrapeResult) error {
	if err := res.Query.Validate(); err != nil {
		return err
	}
	arena, err := s.newArena(ctx)
	if err != nil {
		return err
	}
	defer s.closeArena(arena)

	sess, err := s.openSession(ctx, arena)
	if err != nil {
		return err
	}
	defer closeSession(sess)

	if err := s.navigate(ctx, sess, s.opts.EntryURL); err != nil {
		return err
	}
	token, err := ReadChallenge(ctx, sess, s.opts.Selectors.Challenge, s.opts.ChallengeTimeout, s.clock)
	if err != nil {
		res.Snapshot = s.pageSnapshot(ctx, sess)
		return err
	}
	res.ChallengeUsed = token.Text

	if err := Submit(ctx, sess, s.opts.Selectors, res.Query, token.Text); err != nil {
		res.Snapshot = s.pageSnapshot(ctx, sess)
		return err
	}
	if err := sleep(ctx, s.opts.SettleDelay); err != nil {
		return err
	}

	report, err := s.poll(ctx, "summary", s.tableCheck(sess, s.opts.Selectors.SummaryTable, s.opts.Selectors.ChallengeError))
	if err != nil {
		res.Snapshot = s.pageSnapshot(ctx, sess)
		return err
	}
	if report.State == Exhausted {
		if report.SawEmptyMarker {
			res.Outcome = court.OutcomeNoData
			return nil
		}
		res.Snapshot = s.pageSnapshot(ctx, sess)
		return court.NewError(court.KindReadinessExhausted, "poll summary table", report.LastErr)
	}

	summaries, err := ExtractSummaries(report.Last.Snapshot, s.opts.EntryURL, s.opts.DetailPattern, s.opts.Selectors.EmptyMarker)
	if err != nil {
		res.Snapshot = report.Last.Snapshot
		return err
	}
	closeSession(sess)

	if len(summaries) == 0 {
		res.Outcome = court.OutcomeNoData
		return nil
	}
	_, span := s.tracer.Start(ctx, "scrape.Enrich", trace.WithAttributes(attribute.Int("summaries", len(summaries))))
	enriched := s.enricher.Enrich(ctx, arena, summaries)
	span.End()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("enrich summaries: %w", ctxErr)
	}
	res.Summaries = enriched
	res.Outcome = court.OutcomeSuccess
	return nil
}

// FetchCaseOrders reads one case's orders page. The reference must point at
// the configured site.
func (s *Scraper) FetchCaseOrders(ctx context.Context, ref string) (court.CaseDetail, error) {
	ref = strings.TrimSpace(ref)
	if err := s.checkReference(ref); err != nil {
		return court.CaseDetail{}, err
	}
	ctx, span := s.tracer.Start(ctx, "scrape.FetchCaseOrders", trace.WithAttributes(attribute.String("detail.ref", ref)))
	defer span.End()

	arena, err := s.newArena(ctx)
	if err != nil {
		return court.CaseDetail{}, err
	}
	defer s.closeArena(arena)

	detail, err := s.fetchDetail(ctx, arena, ref)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(court.KindOf(err)))
		return court.CaseDetail{}, err
	}
	return detail, nil
}

func (s *Scraper) fetchDetail(ctx context.Context, arena court.Arena, ref string) (court.CaseDetail, error) {
	sess, err := s.openSession(ctx, arena)
	if err != nil {
		return court.CaseDetail{}, err
	}
	defer closeSession(sess)

	if err := s.navigate(ctx, sess, ref); err != nil {
		return court.CaseDetail{}, err
	}
	report, err := s.poll(ctx, "detail", s.tableCheck(sess, s.opts.Selectors.DetailTable, ""))
	if err != nil {
		return court.CaseDetail{}, err
	}

	var orders []court.OrderRecord
	switch {
	case report.State == Ready:
		orders, err = ExtractOrders(report.Last.Snapshot, ref, s.opts.Selectors.EmptyMarker)
		if err != nil {
			return court.CaseDetail{}, err
		}
	case report.SawEmptyMarker:
		orders = []court.OrderRecord{}
	default:
		return court.CaseDetail{}, court.NewError(court.KindReadinessExhausted, "poll detail table", report.LastErr)
	}

	page, err := sess.HTML(ctx, "html")
	if err != nil {
		return court.CaseDetail{}, fmt.Errorf("read detail page: %w", err)
	}
	filingDate, nextHearing, err := ReadDetailFields(page, s.opts.Selectors)
	if err != nil {
		return court.CaseDetail{}, court.NewError(court.KindExtractionSchemaMismatch, "read detail fields", err)
	}
	return court.CaseDetail{
		DetailReference: ref,
		FilingDate:      filingDate,
		NextHearingDate: nextHearing,
		Orders:          orders,
	}, nil
}

// ListCaseTypes returns the case types offered by the search form.
func (s *Scraper) ListCaseTypes(ctx context.Context) ([]string, error) {
	if s.caseTypes != nil {
		types, err := s.caseTypes.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list case types: %w", err)
		}
		return types, nil
	}
	arena, err := s.newArena(ctx)
	if err != nil {
		return nil, err
	}
	defer s.closeArena(arena)

	sess, err := s.openSession(ctx, arena)
	if err != nil {
		return nil, err
	}
	defer closeSession(sess)

	if err := s.navigate(ctx, sess, s.opts.EntryURL); err != nil {
		return nil, err
	}
	markup, err := sess.HTML(ctx, s.opts.Selectors.CaseType)
	if err != nil {
		return nil, fmt.Errorf("read case types: %w", err)
	}
	if markup == "" {
		return nil, court.NewError(court.KindFieldNotFound, "list case types",
			&court.FieldError{Selector: s.opts.Selectors.CaseType})
	}
	types, err := ExtractOptions(markup)
	if err != nil {
		return nil, court.NewError(court.KindExtractionSchemaMismatch, "list case types", err)
	}
	return types, nil
}

// PeekChallenge loads the entry page and returns its current challenge. The
// token is useless for a later submission; it exists for diagnostics.
func (s *Scraper) PeekChallenge(ctx context.Context) (court.ChallengeToken, error) {
	arena, err := s.newArena(ctx)
	if err != nil {
		return court.ChallengeToken{}, err
	}
	defer s.closeArena(arena)

	sess, err := s.openSession(ctx, arena)
	if err != nil {
		return court.ChallengeToken{}, err
	}
	defer closeSession(sess)

	if err := s.navigate(ctx, sess, s.opts.EntryURL); err != nil {
		return court.ChallengeToken{}, err
	}
	return ReadChallenge(ctx, sess, s.opts.Selectors.Challenge, s.opts.ChallengeTimeout, s.clock)
}

func (s *Scraper) checkReference(ref string) error {
	u, err := url.Parse(ref)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return court.NewError(court.KindInvalidQuery, "check detail reference",
			fmt.Errorf("detail reference %q must be an absolute http(s) URL", ref))
	}
	if !strings.EqualFold(u.Hostname(), s.entryHost) {
		return court.NewError(court.KindInvalidQuery, "check detail reference",
			fmt.Errorf("detail reference host %q does not match %q", u.Hostname(), s.entryHost))
	}
	return nil
}

// tableCheck reads the table (and optionally a challenge error element) on
// every poll attempt.
func (s *Scraper) tableCheck(sess court.Session, tableSel, rejectSel string) Check {
	return func(ctx context.Context) (Observation, error) {
		if rejectSel != "" {
			markup, err := sess.HTML(ctx, rejectSel)
			if err != nil {
				return Observation{}, fmt.Errorf("read challenge error: %w", err)
			}
			if msg := elementText(markup); msg != "" {
				return Observation{}, court.NewError(court.KindChallengeRejected, "poll results", errors.New(msg))
			}
		}
		markup, err := sess.HTML(ctx, tableSel)
		if err != nil {
			return Observation{}, fmt.Errorf("read table: %w", err)
		}
		state, err := ClassifyTable(markup, s.opts.Selectors.EmptyMarker)
		if err != nil {
			return Observation{}, err
		}
		return Observation{State: state, Snapshot: markup}, nil
	}
}

func (s *Scraper) poll(ctx context.Context, table string, check Check) (Report, error) {
	ctx, span := s.tracer.Start(ctx, "scrape.Poll", trace.WithAttributes(attribute.String("table", table)))
	defer span.End()
	report, err := Poll(ctx, check, s.opts.Poll)
	span.SetAttributes(
		attribute.Int("poll.attempts", report.Attempts),
		attribute.Bool("poll.saw_empty_marker", report.SawEmptyMarker),
	)
	metrics.ObservePoll(table, report.State.String(), report.Attempts)
	s.logger.Debug("poll finished",
		zap.String("table", table),
		zap.String("state", report.State.String()),
		zap.Int("attempts", report.Attempts),
		zap.Bool("saw_empty_marker", report.SawEmptyMarker),
	)
	return report, err
}

func (s *Scraper) navigate(ctx context.Context, sess court.Session, target string) error {
	if err := sess.Navigate(ctx, target, s.opts.NavTimeout); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("navigate: %w", ctxErr)
		}
		return court.NewError(court.KindNavigationTimeout, "navigate", err)
	}
	return nil
}

func (s *Scraper) newArena(ctx context.Context) (court.Arena, error) {
	arena, err := s.browser.NewArena(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("new arena: %w", ctxErr)
		}
		var ce *court.Error
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, court.NewError(court.KindSessionUnavailable, "new arena", err)
	}
	return arena, nil
}

func (s *Scraper) openSession(ctx context.Context, arena court.Arena) (court.Session, error) {
	sess, err := arena.Open(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("open session: %w", ctxErr)
		}
		return nil, court.NewError(court.KindSessionUnavailable, "open session", err)
	}
	return sess, nil
}

func (s *Scraper) closeArena(arena court.Arena) {
	if err := arena.Close(); err != nil {
		s.logger.Warn("close arena failed", zap.Error(err))
	}
}

func closeSession(sess court.Session) {
	_ = sess.Close()
}

// pageSnapshot grabs the whole document for failure archival. It is best
// effort and bounded even when ctx is already done.
func (s *Scraper) pageSnapshot(ctx context.Context, sess court.Session) string {
	snapCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	markup, err := sess.HTML(snapCtx, "html")
	if err != nil {
		s.logger.Debug("page snapshot failed", zap.Error(err))
		return ""
	}
	return markup
}
