package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/court-case-scraper/internal/config"
	"github.com/JakeFAU/court-case-scraper/internal/court"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Browser.Enabled = false
	cfg.Storage.Driver = "memory"
	cfg.Archive.Driver = "none"
	cfg.PubSub = config.PubSubConfig{}
	cfg.Persist.Timeout = time.Second
	return cfg
}

func TestBuild_ServesHealthAndFailsWithoutBrowser(t *testing.T) {
	cfg := testConfig(t)
	a, err := BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := []byte(`{"caseType":"FAO","caseNumber":"123","filingYear":"2023"}`)
	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/fetch-case-data", bytes.NewReader(body)))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "SessionUnavailable")

	require.Eventually(t, func() bool {
		rows, err := a.QueryLog().Recent(context.Background(), 10)
		return err == nil && len(rows) == 1
	}, 2*time.Second, 10*time.Millisecond)
	rows, err := a.QueryLog().Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, "FAO", rows[0].CaseType)
	assert.Contains(t, rows[0].RawResponse, "SessionUnavailable")
}

func TestBuild_MemoryPublisherReceivesResults(t *testing.T) {
	cfg := testConfig(t)
	cfg.PubSub = config.PubSubConfig{Driver: "memory", TopicName: "case-results", MemoryLimit: 10}
	a, err := BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	require.NotNil(t, a.PublishedResults())

	res := a.Service().FetchCaseData(context.Background(), court.CaseQuery{CaseType: "FAO", CaseNumber: "1", FilingYear: "2024"})
	require.Equal(t, court.OutcomeFailure, res.Outcome)

	require.Eventually(t, func() bool {
		_, ok := a.PublishedResults().Lookup(res.ID)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	msg, _ := a.PublishedResults().Lookup(res.ID)
	assert.Equal(t, "case-results", msg.Topic)
	assert.Equal(t, court.KindSessionUnavailable, msg.Result.Cause)
}

func TestBuild_SQLiteAndLocalArchive(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t)
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.SQLitePath = filepath.Join(dir, "db", "court.db")
	cfg.Archive.Driver = "local"
	cfg.Archive.LocalDir = filepath.Join(dir, "snapshots")
	require.NoError(t, os.MkdirAll(cfg.Archive.LocalDir, 0o750))

	a, err := BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, a.Scraper())
	require.NotNil(t, a.Logger())

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/query-history", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queries":[]}`, rec.Body.String())

	require.NoError(t, a.Close(context.Background()))
	_, err = os.Stat(cfg.Storage.SQLitePath)
	require.NoError(t, err)
}

func TestBuild_HTTPCaseTypes(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><select id="case_type">` +
			`<option value="">Select</option><option>FAO</option><option>CRL.A.</option>` +
			`</select></body></html>`))
	}))
	t.Cleanup(site.Close)

	cfg := testConfig(t)
	cfg.Site.EntryURL = site.URL
	cfg.Site.CaseTypesSource = "http"
	a, err := BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/case-types", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"caseTypes":["FAO","CRL.A."]}`, rec.Body.String())
}

func TestBuild_BadArchiveDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	cfg := testConfig(t)
	cfg.Archive.Driver = "local"
	cfg.Archive.LocalDir = file
	_, err := BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "local archive init failed")
}

func TestSelectorsFromConfig(t *testing.T) {
	t.Parallel()

	s := selectorsFromConfig(config.SelectorConfig{CaseType: "#kind", Submit: ""})
	assert.Equal(t, "#kind", s.CaseType)
	assert.Equal(t, "#search", s.Submit)
	assert.Equal(t, "#caseTable", s.SummaryTable)
}
