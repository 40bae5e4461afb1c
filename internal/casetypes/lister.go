// Package casetypes reads the case-type options from the search page over
// plain HTTP. The select element is rendered server-side, so no browser is
// needed.
package casetypes

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// Config controls the lister.
type Config struct {
	URL       string
	Selector  string
	UserAgent string
	Timeout   time.Duration
}

// Lister implements scrape.CaseTypeLister with colly.
type Lister struct {
	cfg       Config
	transport http.RoundTripper
	logger    *zap.Logger
}

// New builds a Lister.
func New(cfg Config, logger *zap.Logger) (*Lister, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("case types url is required")
	}
	if cfg.Selector == "" {
		return nil, fmt.Errorf("case types selector is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lister{cfg: cfg, transport: newHTTPTransport(), logger: logger}, nil
}

// List fetches the page and returns option labels in document order, without
// blanks, "Select ..." placeholders or duplicates. The request is bound to
// ctx, so cancellation aborts the fetch itself.
func (l *Lister) List(ctx context.Context) ([]string, error) {
	collector := colly.NewCollector(colly.Async(false), colly.StdlibContext(ctx))
	collector.WithTransport(l.transport)
	collector.SetRequestTimeout(l.cfg.Timeout)
	collector.AllowURLRevisit = true
	if l.cfg.UserAgent != "" {
		collector.UserAgent = l.cfg.UserAgent
	}

	var (
		types    = []string{}
		seen     = map[string]struct{}{}
		found    bool
		fetchErr error
	)
	collector.OnHTML(l.cfg.Selector, func(e *colly.HTMLElement) {
		if found {
			return
		}
		found = true
		e.ForEach("option", func(_ int, opt *colly.HTMLElement) {
			label := strings.TrimSpace(opt.Text)
			if label == "" || strings.HasPrefix(strings.ToLower(label), "select") {
				return
			}
			if _, dup := seen[label]; dup {
				return
			}
			seen[label] = struct{}{}
			types = append(types, label)
		})
	})
	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
	})

	err := collector.Visit(l.cfg.URL)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("list case types canceled: %w", ctxErr)
	}
	if err != nil && fetchErr == nil {
		fetchErr = err
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("fetch case types page: %w", fetchErr)
	}
	if !found {
		return nil, fmt.Errorf("case type select %s not found on %s", l.cfg.Selector, l.cfg.URL)
	}
	l.logger.Debug("case types listed", zap.Int("count", len(types)))
	return types, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
