package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/tradeingest/src/config"
	"github.com/username/tradeingest/src/database"
	"github.com/username/tradeingest/src/fingerprint"
	"github.com/username/tradeingest/src/models"
	"github.com/username/tradeingest/src/processors"
	"github.com/username/tradeingest/src/security"
	"github.com/username/tradeingest/src/services"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type apiEnv struct {
	router http.Handler
	auth   *security.AuthService
	jobs   *services.JobQueue
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.DefaultDedupConfig()
	svc := services.NewIngestService(
		processors.NewTradeNormalizer(time.UTC),
		fingerprint.NewGenerator(cfg),
		database.NewFingerprintStore(db),
		database.NewResolutionLog(db),
		database.NewTradeRepository(db),
		services.NewAnalyticsCache(time.Minute),
		cfg,
		2,
	)
	jobs := services.NewJobQueue(svc, 1, 8, time.Minute)
	t.Cleanup(func() { jobs.Shutdown(context.Background()) })

	auth := security.NewAuthService(testSecret)
	router := NewAPIRouter(NewIngestHandler(svc, jobs, 1<<20), NewTradeHandler(svc), auth)
	return &apiEnv{router: router, auth: auth, jobs: jobs}
}

func (e *apiEnv) do(t *testing.T, userID int64, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if userID > 0 {
		token, err := e.auth.GenerateToken(userID, time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

const aaplJSON = `{"symbol":"aapl","direction":"long","quantity":100,"entry_price":150.00,"exit_price":155.00,
	"entry_time":"2024-03-01T09:00:00Z","exit_time":"2024-03-01T10:00:00Z"}`

func TestAuthRequired(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, 0, http.MethodGet, "/api/trades", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/trades", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestManualTrade(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, 1, http.MethodPost, "/api/trades", bytes.NewBufferString(aaplJSON), "application/json")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var report models.BatchReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Len(t, report.UniqueTrades, 1)
	assert.Equal(t, models.SourceManual, report.Source)

	rec = env.do(t, 1, http.MethodPost, "/api/trades", bytes.NewBufferString(aaplJSON), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Len(t, report.DuplicatesFound, 1)

	rec = env.do(t, 1, http.MethodPost, "/api/trades?auto_resolve=false", bytes.NewBufferString(aaplJSON), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Empty(t, report.DuplicatesFound)
	assert.Len(t, report.ConflictsRequiringReview, 1)
}

func TestManualTrade_BadInput(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, 1, http.MethodPost, "/api/trades", bytes.NewBufferString(`[1,2]`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, 1, http.MethodPost, "/api/trades?auto_resolve=maybe", bytes.NewBufferString(aaplJSON), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, 1, http.MethodPost, "/api/trades", bytes.NewBufferString(`{"symbol":"AAPL"}`), "application/json")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func waitForJob(t *testing.T, env *apiEnv, userID int64, location string) services.Job {
	t.Helper()
	var job services.Job
	require.Eventually(t, func() bool {
		rec := env.do(t, userID, http.MethodGet, location, nil, "")
		if rec.Code != http.StatusOK {
			return false
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
			return false
		}
		return job.State == services.JobDone || job.State == services.JobFailed
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestConnectorSync(t *testing.T) {
	env := newAPIEnv(t)
	body := bytes.NewBufferString(`{"trades":[` + aaplJSON + `,` + aaplJSON + `]}`)

	rec := env.do(t, 1, http.MethodPost, "/api/connectors/Tradovate/sync", body, "application/json")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	location := rec.Header().Get("Location")
	require.NotEmpty(t, location)

	job := waitForJob(t, env, 1, location)
	assert.Equal(t, services.JobDone, job.State)
	require.NotNil(t, job.Report)
	assert.Len(t, job.Report.UniqueTrades, 1)
	assert.Len(t, job.Report.DuplicatesFound, 1)
	assert.Equal(t, models.APISource("tradovate"), job.Report.Source)

	rec = env.do(t, 2, http.MethodGet, location, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, 1, http.MethodPost, "/api/connectors/tradovate/sync", bytes.NewBufferString(`{"nope":1}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func multipartCSV(t *testing.T, contentType, content string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="trades.csv"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestImportFile(t *testing.T) {
	env := newAPIEnv(t)
	csv := "Symbol,Side,Qty,Entry Price,Exit Price,Open Time,Close Time\n" +
		"AAPL,long,100,150.00,155.00,2024-03-01 09:00,2024-03-01 10:00\n" +
		"TSLA,short,50,200.00,190.00,2024-03-01 11:00,2024-03-01 12:00\n" +
		"MSFT,long,0,1,2,2024-03-01 11:00,2024-03-01 12:00\n" +
		",,,,,,\n"

	body, contentType := multipartCSV(t, "text/csv", csv)
	rec := env.do(t, 1, http.MethodPost, "/api/trades/import", body, contentType)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	job := waitForJob(t, env, 1, rec.Header().Get("Location"))
	require.NotNil(t, job.Report)
	assert.Equal(t, 4, job.Report.OriginalCount)
	assert.Len(t, job.Report.UniqueTrades, 2)
	require.Len(t, job.Report.ValidationErrors, 2)
	assert.Equal(t, 3, job.Report.ValidationErrors[1].Index)
	assert.Equal(t, models.SourceFile, job.Report.Source)

	rec = env.do(t, 1, http.MethodGet, "/api/trades", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var trades []models.CanonicalTrade
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trades))
	assert.Len(t, trades, 2)

	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)
	req := httptest.NewRequest(http.MethodGet, "/api/trades", nil)
	token, err := env.auth.GenerateToken(1, time.Minute)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("If-None-Match", etag)
	cached := httptest.NewRecorder()
	env.router.ServeHTTP(cached, req)
	assert.Equal(t, http.StatusNotModified, cached.Code)
}

func TestImportFile_RejectsNonCSV(t *testing.T) {
	env := newAPIEnv(t)

	body, contentType := multipartCSV(t, "image/png", "symbol\nAAPL\n")
	rec := env.do(t, 1, http.MethodPost, "/api/trades/import", body, contentType)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, contentType = multipartCSV(t, "text/csv", "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	rec = env.do(t, 1, http.MethodPost, "/api/trades/import", body, contentType)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolutionLogAndStats(t *testing.T) {
	env := newAPIEnv(t)
	env.do(t, 1, http.MethodPost, "/api/trades", bytes.NewBufferString(aaplJSON), "application/json")
	env.do(t, 1, http.MethodPost, "/api/trades", bytes.NewBufferString(aaplJSON), "application/json")

	rec := env.do(t, 1, http.MethodGet, "/api/dedup/log?limit=10", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []models.ResolutionLogEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, models.ActionAutoRemoved, entries[0].Action)

	rec = env.do(t, 1, http.MethodGet, "/api/dedup/log?limit=-1", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, 1, http.MethodGet, "/api/dedup/stats", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats models.ResolutionStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByAction[models.ActionRegistered])

	rec = env.do(t, 2, http.MethodGet, "/api/dedup/stats", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `"total":0`))
}
