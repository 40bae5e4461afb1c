package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/court-case-scraper/internal/api"
	"github.com/JakeFAU/court-case-scraper/internal/config"
	"github.com/JakeFAU/court-case-scraper/internal/court"
	"github.com/JakeFAU/court-case-scraper/internal/storage/memory"
)

type fakeService struct {
	query  court.CaseQuery
	result court.ScrapeResult
	detail court.CaseDetail
	types  []string
	token  court.ChallengeToken
	err    error
}

func (f *fakeService) FetchCaseData(_ context.Context, query court.CaseQuery) court.ScrapeResult {
	f.query = query
	return f.result
}

func (f *fakeService) FetchCaseOrders(_ context.Context, _ string) (court.CaseDetail, error) {
	return f.detail, f.err
}

func (f *fakeService) ListCaseTypes(_ context.Context) ([]string, error) {
	return f.types, f.err
}

func (f *fakeService) PeekChallenge(_ context.Context) (court.ChallengeToken, error) {
	return f.token, f.err
}

type fakeApp struct {
	svc    *fakeService
	log    *memory.QueryLog
	ran    bool
	closed bool
}

func newFakeApp() *fakeApp {
	return &fakeApp{svc: &fakeService{}, log: memory.NewQueryLog()}
}

func (f *fakeApp) Run(_ context.Context) error {
	f.ran = true
	return nil
}

func (f *fakeApp) Close(_ context.Context) error {
	f.closed = true
	return nil
}

func (f *fakeApp) Logger() *zap.Logger { return zap.NewNop() }

func (f *fakeApp) Service() api.Service { return f.svc }

func (f *fakeApp) QueryLog() court.QueryLog { return f.log }

func execute(t *testing.T, fake *fakeApp, args ...string) (string, error) {
	t.Helper()
	orig := newApp
	newApp = func(context.Context, config.Config) (App, error) { return fake, nil }
	t.Cleanup(func() { newApp = orig })

	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestFetchCmd_PrintsResult(t *testing.T) {
	fake := newFakeApp()
	fake.svc.result = court.ScrapeResult{
		ID:        "r-1",
		Outcome:   court.OutcomeSuccess,
		Summaries: []court.CaseSummaryRecord{{SerialNo: "1", DiaryOrCaseNo: "FAO 123/2023"}},
	}

	out, err := execute(t, fake, "fetch", "--type", "FAO", "--number", "123", "--year", "2023")
	require.NoError(t, err)

	var got court.ScrapeResult
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "r-1", got.ID)
	assert.Len(t, got.Summaries, 1)
	assert.Equal(t, court.CaseQuery{CaseType: "FAO", CaseNumber: "123", FilingYear: "2023"}, fake.svc.query)
	assert.True(t, fake.closed)
}

func TestFetchCmd_FailureExitsWithCause(t *testing.T) {
	fake := newFakeApp()
	fake.svc.result = court.ScrapeResult{
		Outcome: court.OutcomeFailure,
		Cause:   court.KindChallengeUnavailable,
		Message: "the verification code was not shown on the page",
	}

	out, err := execute(t, fake, "fetch", "--type", "FAO", "--number", "123", "--year", "2023")
	require.ErrorContains(t, err, "ChallengeUnavailable")
	assert.Contains(t, out, `"outcome": "failure"`)
}

func TestFetchCmd_RequiresFlags(t *testing.T) {
	_, err := execute(t, newFakeApp(), "fetch", "--type", "FAO")
	require.ErrorContains(t, err, "required flag")
}

func TestOrdersCmd(t *testing.T) {
	fake := newFakeApp()
	fake.svc.detail = court.CaseDetail{FilingDate: "12/03/2023", Orders: []court.OrderRecord{{SerialNo: "1"}}}

	out, err := execute(t, fake, "orders", "https://court.example/app/case-type-status-details/x")
	require.NoError(t, err)
	assert.Contains(t, out, `"filingDate": "12/03/2023"`)

	_, err = execute(t, newFakeApp(), "orders")
	require.Error(t, err)
}

func TestOrdersCmd_DescribesFailure(t *testing.T) {
	fake := newFakeApp()
	fake.svc.err = court.NewError(court.KindNavigationTimeout, "navigate", errors.New("net::ERR_TIMED_OUT"))

	_, err := execute(t, fake, "orders", "https://court.example/x")
	require.ErrorContains(t, err, "did not load in time")
	require.NotContains(t, err.Error(), "ERR_TIMED_OUT")
}

func TestCaseTypesCmd(t *testing.T) {
	fake := newFakeApp()
	fake.svc.types = []string{"FAO", "W.P.(C)"}

	out, err := execute(t, fake, "case-types")
	require.NoError(t, err)
	var got []string
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, []string{"FAO", "W.P.(C)"}, got)
}

func TestCaptchaCmd(t *testing.T) {
	fake := newFakeApp()
	fake.svc.token = court.ChallengeToken{Text: "AB12C"}

	out, err := execute(t, fake, "captcha")
	require.NoError(t, err)
	assert.Equal(t, "AB12C\n", out)
}

func TestHistoryCmd(t *testing.T) {
	fake := newFakeApp()
	ctx := context.Background()
	require.NoError(t, fake.log.Append(ctx, court.QueryRecord{CaseType: "FAO", CaseNumber: "1", FilingYear: "2023"}))
	require.NoError(t, fake.log.Append(ctx, court.QueryRecord{CaseType: "FAO", CaseNumber: "2", FilingYear: "2023"}))

	out, err := execute(t, fake, "history", "--limit", "1")
	require.NoError(t, err)
	var rows []court.QueryRecord
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "2", rows[0].CaseNumber)

	_, err = execute(t, newFakeApp(), "history", "--limit", "0")
	require.ErrorContains(t, err, "--limit")
}

func TestServeCmd_RunsApp(t *testing.T) {
	fake := newFakeApp()
	_, err := execute(t, fake, "serve")
	require.NoError(t, err)
	assert.True(t, fake.ran)
}

func TestRootCmd_AppInitFailure(t *testing.T) {
	orig := newApp
	newApp = func(context.Context, config.Config) (App, error) { return nil, errors.New("no database") }
	t.Cleanup(func() { newApp = orig })

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"case-types"})
	err := root.ExecuteContext(context.Background())
	require.ErrorContains(t, err, "no database")
}
