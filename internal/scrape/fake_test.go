package scrape

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/court-case-scraper/internal/court"
)

const (
	testEntryURL  = "https://court.example/app/get-case-type-status"
	testDetailURL = "https://court.example/app/case-type-status-details/abc123"
)

const emptyTableHTML = `<table id="caseTable"><thead><tr><th>S.No.</th><th>Diary No. / Case No.</th>` +
	`<th>Petitioner Vs. Respondent</th><th>Listing Date / Court No.</th></tr></thead>` +
	`<tbody><tr><td colspan="4" class="dt-empty">No data available in table</td></tr></tbody></table>`

const twoRowTableHTML = `<table id="caseTable"><thead><tr><th>S.No.</th><th>Diary No. / Case No.</th>` +
	`<th>Petitioner Vs. Respondent</th><th>Listing Date / Court No.</th></tr></thead><tbody>
<tr><td> 1 </td><td>FAO 123/2023 <a href="/app/case-type-status-details/abc123">Orders</a></td>` +
	`<td>RAM KUMAR VS. STATE</td><td>NEXT DATE: 01/02/2024</td></tr>
<tr><td>2</td><td>FAO 124/2023</td><td>SITA DEVI VS. UNION OF INDIA</td><td>Court No. 5</td></tr>
</tbody></table>`

const ordersTableHTML = `<table id="caseTable"><thead><tr><th>#</th><th>Case No / Order</th><th>Date</th>` +
	`<th>Corrigendum</th><th>Hindi</th></tr></thead><tbody>
<tr><td>1</td><td><a href="/files/orders/fao-123-2023-1.pdf">FAO 123/2023</a></td><td>05/01/2024</td><td></td><td></td></tr>
<tr><td>2</td><td>FAO 123/2023</td><td>12/12/2023</td><td>-</td><td><a href="/files/hindi/2.PDF">Hindi</a></td></tr>
</tbody></table>`

const malformedOrdersHTML = `<table id="caseTable"><tbody><tr><td>1</td><td>FAO</td><td>05/01/2024</td></tr></tbody></table>`

func detailDoc(table string) string {
	return `<html><body><div><span id="filing_date">12/03/2023</span>` +
		`<span id="next_hearing_date">01/02/2024</span></div>` + table + `</body></html>`
}

type fakePage struct {
	Challenge string
	Missing   map[string]bool
	Tables    map[string][]string
	Elements  map[string]string
	Doc       string
	NavErr    error
	ClickErr  error
	// OnNavigate runs before the navigation is checked against ctx.
	OnNavigate func()
}

type fakeSite struct {
	mu     sync.Mutex
	pages  map[string]*fakePage
	opened int
	closed int
	navs   []string
	clicks []string
	filled map[string]string
	arenas int
}

func newFakeSite() *fakeSite {
	return &fakeSite{pages: map[string]*fakePage{}, filled: map[string]string{}}
}

func (s *fakeSite) NewArena(_ context.Context) (court.Arena, error) {
	s.mu.Lock()
	s.arenas++
	s.mu.Unlock()
	return &fakeArena{site: s}, nil
}

func (s *fakeSite) counts() (opened, closed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened, s.closed
}

func (s *fakeSite) clickCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clicks)
}

func (s *fakeSite) navCount(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, u := range s.navs {
		if u == url {
			n++
		}
	}
	return n
}

type fakeArena struct {
	site     *fakeSite
	mu       sync.Mutex
	sessions []*fakeSession
	closed   bool
}

func (a *fakeArena) Open(_ context.Context) (court.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, errors.New("arena closed")
	}
	sess := &fakeSession{site: a.site, reads: map[string]int{}}
	a.sessions = append(a.sessions, sess)
	a.site.mu.Lock()
	a.site.opened++
	a.site.mu.Unlock()
	return sess, nil
}

func (a *fakeArena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	for _, s := range a.sessions {
		_ = s.Close()
	}
	return nil
}

type fakeSession struct {
	site   *fakeSite
	page   *fakePage
	reads  map[string]int
	mu     sync.Mutex
	closed bool
}

func (s *fakeSession) Navigate(ctx context.Context, url string, _ time.Duration) error {
	s.site.mu.Lock()
	page := s.site.pages[url]
	s.site.mu.Unlock()
	if page != nil && page.OnNavigate != nil {
		page.OnNavigate()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.site.mu.Lock()
	s.site.navs = append(s.site.navs, url)
	s.site.mu.Unlock()
	if page == nil {
		return fmt.Errorf("no page at %s", url)
	}
	if page.NavErr != nil {
		return page.NavErr
	}
	s.page = page
	return nil
}

func (s *fakeSession) WaitText(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	if s.page != nil && s.page.Challenge != "" && selector == "#captcha-code" {
		return "  " + s.page.Challenge + "\n", nil
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(timeout):
		return "", fmt.Errorf("wait for %s: %w", selector, context.DeadlineExceeded)
	}
}

func (s *fakeSession) Exists(_ context.Context, selector string) (bool, error) {
	return s.page != nil && !s.page.Missing[selector], nil
}

func (s *fakeSession) SetValue(_ context.Context, selector, value string) error {
	s.site.mu.Lock()
	defer s.site.mu.Unlock()
	s.site.filled[selector] = value
	return nil
}

func (s *fakeSession) SelectOption(ctx context.Context, selector, value string) error {
	return s.SetValue(ctx, selector, value)
}

func (s *fakeSession) Click(_ context.Context, selector string) error {
	s.site.mu.Lock()
	defer s.site.mu.Unlock()
	s.site.clicks = append(s.site.clicks, selector)
	if s.page != nil && s.page.ClickErr != nil {
		return s.page.ClickErr
	}
	return nil
}

func (s *fakeSession) HTML(ctx context.Context, selector string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.page == nil {
		return "", nil
	}
	if seq, ok := s.page.Tables[selector]; ok && len(seq) > 0 {
		i := s.reads[selector]
		s.reads[selector]++
		if i >= len(seq) {
			i = len(seq) - 1
		}
		return seq[i], nil
	}
	if selector == "html" {
		return s.page.Doc, nil
	}
	return s.page.Elements[selector], nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.site.mu.Lock()
	s.site.closed++
	s.site.mu.Unlock()
	return nil
}

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeIDs struct{}

func (fakeIDs) NewID() (string, error) { return "result-1", nil }

type recordingSink struct {
	mu      sync.Mutex
	results []court.ScrapeResult
}

func (r *recordingSink) Deliver(_ context.Context, res court.ScrapeResult) court.ScrapeResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	return res
}

func testOptions() Options {
	return Options{
		EntryURL:          testEntryURL,
		DetailPattern:     "case-type-status-details",
		Selectors:         DefaultSelectors(),
		NavTimeout:        time.Second,
		ChallengeTimeout:  20 * time.Millisecond,
		SettleDelay:       0,
		Poll:              Budget{MaxAttempts: 3, Interval: time.Millisecond},
		FanoutConcurrency: 1,
	}
}

func entryPage(tables ...string) *fakePage {
	return &fakePage{
		Challenge: "AB12C",
		Tables:    map[string][]string{"#caseTable": tables},
		Doc:       "<html><body><form id=\"search-form\"></form></body></html>",
	}
}

func detailPage(table string) *fakePage {
	return &fakePage{
		Tables: map[string][]string{"#caseTable": {table}},
		Doc:    detailDoc(table),
	}
}
