// Package sink persists finished scrape results without delaying the caller.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/court-case-scraper/internal/court"
	"github.com/JakeFAU/court-case-scraper/internal/metrics"
)

// Persistence targets, used as metric labels.
const (
	TargetQueryLog = "query_log"
	TargetArchive  = "archive"
	TargetPublish  = "publish"
)

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Options tunes a Sink.
type Options struct {
	// Timeout bounds the background work for one result.
	Timeout time.Duration
	// Topic is passed to the publisher.
	Topic string
	// ArchivePrefix is the object prefix for failure snapshots.
	ArchivePrefix string
}

// Deps are the Sink's collaborators. Only Log is required.
type Deps struct {
	Log       court.QueryLog
	Blobs     court.BlobStore
	Hasher    court.Hasher
	Publisher court.Publisher
	Logger    *zap.Logger
}

// Sink writes every result to the query log and, when configured, archives
// failure snapshots and publishes the result. Work runs in the background;
// errors are logged and counted but never reach the caller.
type Sink struct {
	opts   Options
	deps   Deps
	logger *zap.Logger
	wg     sync.WaitGroup
}

// New builds a Sink.
func New(opts Options, deps Deps) (*Sink, error) {
	if deps.Log == nil {
		return nil, fmt.Errorf("query log is required")
	}
	if deps.Blobs != nil && deps.Hasher == nil {
		return nil, fmt.Errorf("hasher is required when archiving snapshots")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{opts: opts, deps: deps, logger: logger}, nil
}

// Deliver schedules persistence of res and returns it unchanged.
func (s *Sink) Deliver(ctx context.Context, res court.ScrapeResult) court.ScrapeResult {
	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(bg, s.opts.Timeout)
		defer cancel()
		s.persist(ctx, res)
	}()
	return res
}

// Close waits for in-flight deliveries, or until ctx is done.
func (s *Sink) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for pending deliveries: %w", ctx.Err())
	}
}

func (s *Sink) persist(ctx context.Context, res court.ScrapeResult) {
	logger := s.logger.With(zap.String("result_id", res.ID), zap.String("outcome", string(res.Outcome)))

	if s.deps.Blobs != nil && res.Outcome == court.OutcomeFailure && res.Snapshot != "" {
		uri, err := s.archive(ctx, res)
		if err != nil {
			s.fail(logger, TargetArchive, err)
		} else {
			logger.Info("failure snapshot archived", zap.String("uri", uri))
		}
	}

	raw, err := json.Marshal(res)
	if err != nil {
		s.fail(logger, TargetQueryLog, fmt.Errorf("marshal result: %w", err))
		return
	}
	record := court.QueryRecord{
		CaseType:    res.Query.CaseType,
		CaseNumber:  res.Query.CaseNumber,
		FilingYear:  res.Query.FilingYear,
		RawResponse: string(raw),
		Timestamp:   res.FinishedAt,
	}
	if err := s.deps.Log.Append(ctx, record); err != nil {
		s.fail(logger, TargetQueryLog, err)
	}

	if s.deps.Publisher != nil {
		id, err := s.deps.Publisher.Publish(ctx, s.opts.Topic, res)
		if err != nil {
			s.fail(logger, TargetPublish, err)
		} else {
			logger.Debug("result published", zap.String("message_id", id))
		}
	}
}

func (s *Sink) archive(ctx context.Context, res court.ScrapeResult) (string, error) {
	digest, err := s.deps.Hasher.Hash([]byte(res.Snapshot))
	if err != nil {
		return "", fmt.Errorf("hash snapshot: %w", err)
	}
	return s.deps.Blobs.PutObject(ctx, SnapshotPath(s.opts.ArchivePrefix, res.Query.CaseType, digest),
		"text/html; charset=utf-8", []byte(res.Snapshot))
}

func (s *Sink) fail(logger *zap.Logger, target string, err error) {
	metrics.ObservePersistFailure(target)
	logger.Warn("persist result failed",
		zap.String("target", target),
		zap.Error(court.NewError(court.KindPersistenceFailure, target, err)),
	)
}

// SnapshotPath names an archived page: prefix/<case type>/<digest>.html.
func SnapshotPath(prefix, caseType, digest string) string {
	dir := unsafePathChars.ReplaceAllString(caseType, "_")
	if dir == "" || dir == "." || dir == ".." {
		dir = "unknown"
	}
	return path.Join(prefix, dir, digest+".html")
}
