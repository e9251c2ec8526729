package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"gastos/internal/backup"
	"gastos/internal/core"
	"gastos/internal/files"
	"gastos/internal/memory"
	"gastos/internal/middleware/ratelimit"
	"gastos/internal/services"
)

const coffeeAt = int64(1704441600000) // 2024-01-05 08:00 UTC

const twoCoffees = `{
	"exportTimestampMillis": 1,
	"expenses": [
		{"name": "Coffee", "amount": 3.5, "timestampMillis": 1704441600000, "description": "imported"},
		{"name": "Tea", "amount": 2, "timestampMillis": 1704441600000},
		{"name": "Bread", "amount": 1.1, "timestampMillis": 1704441600000}
	],
	"categories": [{"name": "Comida", "photoRef": null}]
}`

type ServerSuite struct {
	suite.Suite
	ctx     context.Context
	dir     string
	store   *memory.Store
	backups *services.BackupService
	srv     *Server
	ready   error
}

func (s *ServerSuite) SetupTest() {
	s.ctx = context.Background()
	s.dir = s.T().TempDir()
	s.store = memory.New(core.Category{Name: "Comida"})
	s.ready = nil
	s.srv = s.newServer(ratelimit.Config{RequestsPerMinute: 1000})
}

func (s *ServerSuite) TearDownTest() {
	s.Require().NoError(s.srv.Shutdown(s.ctx))
}

func (s *ServerSuite) newServer(rl ratelimit.Config) *Server {
	thresholds := core.Thresholds{Amber: decimal.NewFromInt(100), Red: decimal.NewFromInt(200)}
	expenses := services.NewExpenseService(s.store, nil, thresholds, time.UTC, nil)
	packager := backup.NewPackager(s.store, files.Local{}, files.NewPhotoStore(filepath.Join(s.dir, "photos"), ""), backup.Options{
		CacheDir: filepath.Join(s.dir, "cache"),
		Location: time.UTC,
	})
	s.backups = services.NewBackupService(s.store, packager, nil, nil)

	srv := NewServer(":0", Deps{
		Expenses:  expenses,
		Backups:   s.backups,
		Ready:     func(context.Context) error { return s.ready },
		UploadDir: filepath.Join(s.dir, "uploads"),
		RateLimit: rl,
	})
	srv.now = func() time.Time { return time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC) }
	return srv
}

func (s *ServerSuite) do(method, target string, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rr, r)
	return rr
}

func (s *ServerSuite) upload(target, filename, content string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	s.Require().NoError(err)
	_, err = fw.Write([]byte(content))
	s.Require().NoError(err)
	s.Require().NoError(mw.Close())

	r := httptest.NewRequest(http.MethodPost, target, &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rr, r)
	return rr
}

func (s *ServerSuite) decode(rr *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.Unmarshal(rr.Body.Bytes(), v), rr.Body.String())
}

func (s *ServerSuite) seedCoffee() {
	_, err := s.store.InsertExpense(s.ctx, core.Expense{Name: "Coffee", Amount: decimal.RequireFromString("3.50"), Timestamp: coffeeAt})
	s.Require().NoError(err)
	_, err = s.store.InsertExpense(s.ctx, core.Expense{Name: "Tea", Amount: decimal.NewFromInt(2), Timestamp: coffeeAt})
	s.Require().NoError(err)
}

func (s *ServerSuite) TestHealthAndReady() {
	for _, path := range []string{"/healthz", "/readyz"} {
		rr := s.do(http.MethodGet, path, "")
		s.Equal(http.StatusOK, rr.Code, path)
	}

	s.ready = errors.New("db locked")
	rr := s.do(http.MethodGet, "/readyz", "")
	s.Equal(http.StatusServiceUnavailable, rr.Code)
}

func (s *ServerSuite) TestMiddlewareHeaders() {
	rr := s.do(http.MethodGet, "/healthz", "")
	s.Equal("nosniff", rr.Header().Get("X-Content-Type-Options"))
	s.Equal("no-store", rr.Header().Get("Cache-Control"))
	s.NotEmpty(rr.Header().Get("X-Request-ID"))

	rr = s.do(http.MethodGet, "/.env", "")
	s.Equal(http.StatusBadRequest, rr.Code)
}

func (s *ServerSuite) TestMethodNotAllowed() {
	rr := s.do(http.MethodGet, "/backup/export", "")
	s.Equal(http.StatusMethodNotAllowed, rr.Code)
}

func (s *ServerSuite) TestExpenseLifecycle() {
	rr := s.do(http.MethodPost, "/expenses", `{"name": "Pan", "amount": "1,10", "category": "Comida", "timestamp": 1709805600000}`)
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
	var created expenseJSON
	s.decode(rr, &created)
	s.Equal("Pan", created.Name)
	s.Equal("1.1", created.Amount)
	s.Equal("/expenses/1", rr.Header().Get("Location"))

	rr = s.do(http.MethodGet, "/expenses?year=2024&month=3", "")
	s.Require().Equal(http.StatusOK, rr.Code)
	var list struct {
		Expenses []expenseJSON `json:"expenses"`
		Count    int           `json:"count"`
		Total    string        `json:"total"`
	}
	s.decode(rr, &list)
	s.Equal(1, list.Count)
	s.Equal("1.1", list.Total)

	rr = s.do(http.MethodGet, "/expenses?month=2", "")
	s.decode(rr, &list)
	s.Equal(0, list.Count)

	s.Equal(http.StatusNoContent, s.do(http.MethodDelete, "/expenses/1", "").Code)
	s.Equal(http.StatusNotFound, s.do(http.MethodDelete, "/expenses/1", "").Code)
	s.Equal(http.StatusBadRequest, s.do(http.MethodDelete, "/expenses/abc", "").Code)
}

func (s *ServerSuite) TestCreateExpenseValidation() {
	cases := map[string]int{
		`{"name": "x", "amount": "abc"}`:            http.StatusUnprocessableEntity,
		`{"name": "  ", "amount": 1}`:               http.StatusUnprocessableEntity,
		`{"name": "x", "amount": 1, "extra": true}`: http.StatusBadRequest,
		`name=x&amount=1`:                           http.StatusBadRequest,
	}
	for body, want := range cases {
		rr := s.do(http.MethodPost, "/expenses", body)
		s.Equal(want, rr.Code, body)
	}
}

func (s *ServerSuite) TestCreateExpenseDefaultsTimestamp() {
	rr := s.do(http.MethodPost, "/expenses", `{"name": "Now", "amount": 2}`)
	s.Require().Equal(http.StatusCreated, rr.Code)
	var created expenseJSON
	s.decode(rr, &created)
	s.NotZero(created.Timestamp)
}

func (s *ServerSuite) TestCategories() {
	s.Equal(http.StatusConflict, s.do(http.MethodPost, "/categories", `{"name": " comida "}`).Code)
	s.Equal(http.StatusUnprocessableEntity, s.do(http.MethodPost, "/categories", `{"name": ""}`).Code)
	s.Equal(http.StatusCreated, s.do(http.MethodPost, "/categories", `{"name": "Bar"}`).Code)

	rr := s.do(http.MethodGet, "/categories", "")
	var cats []categoryJSON
	s.decode(rr, &cats)
	s.Len(cats, 2)

	s.Equal(http.StatusNoContent, s.do(http.MethodDelete, "/categories/Bar", "").Code)
	s.Equal(http.StatusNotFound, s.do(http.MethodDelete, "/categories/Bar", "").Code)
}

func (s *ServerSuite) TestSummaryFollowsImports() {
	_, err := s.store.InsertExpense(s.ctx, core.Expense{Name: "Rent", Amount: decimal.NewFromInt(195), Timestamp: coffeeAt})
	s.Require().NoError(err)

	rr := s.do(http.MethodGet, "/summary?year=2024&month=1", "")
	s.Require().Equal(http.StatusOK, rr.Code)
	var sum summaryResponse
	s.decode(rr, &sum)
	s.Equal("195", sum.Total)
	s.Equal(core.TierAmber, sum.Tier)
	s.Equal("€195,00", sum.Formatted)

	rr = s.upload("/backup/import", "backup.json", twoCoffees)
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())

	rr = s.do(http.MethodGet, "/summary?year=2024&month=1", "")
	s.decode(rr, &sum)
	s.Equal(4, sum.Count)
	s.Equal("201.6", sum.Total)
	s.Equal(core.TierRed, sum.Tier)

	s.Equal(http.StatusBadRequest, s.do(http.MethodGet, "/summary?month=13", "").Code)

	rr = s.do(http.MethodGet, "/summary", "")
	s.decode(rr, &sum)
	s.Equal(2024, sum.Year)
	s.Equal(3, sum.Month)
}

func (s *ServerSuite) TestExportDownloads() {
	s.seedCoffee()

	rr := s.do(http.MethodPost, "/backup/export", "")
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
	s.Equal("application/json", rr.Header().Get("Content-Type"))
	s.Contains(rr.Header().Get("Content-Disposition"), "gastos_")
	s.Equal("2", rr.Header().Get("X-Backup-Expenses"))
	doc, err := backup.Decode(rr.Body.Bytes())
	s.Require().NoError(err)
	s.Len(doc.Expenses, 2)

	rr = s.do(http.MethodPost, "/backup/export?photos=true", "")
	s.Require().Equal(http.StatusOK, rr.Code)
	s.Equal("application/zip", rr.Header().Get("Content-Type"))
	s.True(bytes.HasPrefix(rr.Body.Bytes(), []byte("PK")))

	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/backup/export?photos=maybe", "").Code)

	left, err := filepath.Glob(filepath.Join(s.dir, "cache", "gastos_*"))
	s.Require().NoError(err)
	s.Empty(left, "downloaded exports are removed from the cache dir")
}

func (s *ServerSuite) TestImportAndDecideOneByOne() {
	s.seedCoffee()

	rr := s.upload("/backup/import", "backup.json", twoCoffees)
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
	var out importResponse
	s.decode(rr, &out)
	s.True(out.Success)
	s.Equal(1, out.Inserted)
	s.Equal(2, out.Conflicts)

	rr = s.do(http.MethodGet, "/backup/conflicts/next", "")
	s.Require().Equal(http.StatusOK, rr.Code)
	var next conflictResponse
	s.decode(rr, &next)
	s.Equal(0, next.Index)
	s.Equal(2, next.Pending)
	s.Equal("Coffee", next.Existing.Name)
	s.Equal("imported", next.Incoming.Description)

	rr = s.do(http.MethodPost, "/backup/conflicts/decision", `{"decision": "duplicate", "index": 1}`)
	s.Equal(http.StatusConflict, rr.Code)

	rr = s.do(http.MethodPost, "/backup/conflicts/decision", `{"decision": "duplicate", "index": 0}`)
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
	var res resolutionResponse
	s.decode(rr, &res)
	s.False(res.Applied)
	s.Equal(1, res.Pending)

	rr = s.do(http.MethodPost, "/backup/conflicts/decision", `{"decision": "discard", "apply_to_remaining": true}`)
	s.Equal(http.StatusBadRequest, rr.Code, "index is required")

	rr = s.do(http.MethodPost, "/backup/conflicts/decision", `{"decision": "replace", "index": 0, "apply_to_remaining": true}`)
	s.Equal(http.StatusConflict, rr.Code, "answer for a conflict already decided")
	s.Contains(rr.Body.String(), "not for the current conflict")

	rr = s.do(http.MethodPost, "/backup/conflicts/decision", `{"decision": "discard", "index": 1, "apply_to_remaining": true}`)
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
	s.decode(rr, &res)
	s.True(res.Applied)
	s.Equal(1, res.Duplicated)
	s.Equal(1, res.Discarded)

	s.Equal(http.StatusNoContent, s.do(http.MethodGet, "/backup/conflicts/next", "").Code)
	s.Equal(http.StatusNotFound, s.do(http.MethodPost, "/backup/conflicts/decision", `{"decision": "discard"}`).Code)

	all, _, err := s.store.ListAll(s.ctx)
	s.Require().NoError(err)
	s.Len(all, 4, "coffee, tea, bread and the duplicated coffee")
}

func (s *ServerSuite) TestImportResolveBySelection() {
	s.seedCoffee()
	s.Require().Equal(http.StatusOK, s.upload("/backup/import", "backup.json", twoCoffees).Code)

	rr := s.do(http.MethodPost, "/backup/conflicts/resolve", `{"discard": [0]}`)
	s.Equal(http.StatusBadRequest, rr.Code)

	rr = s.do(http.MethodPost, "/backup/conflicts/resolve", `{"discard": [1], "replace": [0]}`)
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
	var res resolutionResponse
	s.decode(rr, &res)
	s.Equal(1, res.Replaced)
	s.Equal(1, res.Discarded)

	stored, err := s.store.GetExpense(s.ctx, 1)
	s.Require().NoError(err)
	s.Equal("imported", stored.Description)

	s.Equal(http.StatusNotFound, s.do(http.MethodPost, "/backup/conflicts/resolve", `{"discard": [0]}`).Code)
}

func (s *ServerSuite) TestImportFailures() {
	rr := s.upload("/backup/import", "backup.json", `{"expenses": "nope"}`)
	s.Equal(http.StatusUnprocessableEntity, rr.Code)
	var out importResponse
	s.decode(rr, &out)
	s.False(out.Success)
	s.Equal(services.MsgMalformed, out.Message)

	rr = s.upload("/backup/import", "backup.zip", "definitely not a zip")
	s.Equal(http.StatusInternalServerError, rr.Code)
	s.decode(rr, &out)
	s.Equal(services.MsgGenericFailure, out.Message)

	rr = s.do(http.MethodPost, "/backup/import", "")
	s.Equal(http.StatusBadRequest, rr.Code)

	rr = s.upload("/backup/import?replace_all=perhaps", "backup.json", twoCoffees)
	s.Equal(http.StatusBadRequest, rr.Code)

	all, _, err := s.store.ListAll(s.ctx)
	s.Require().NoError(err)
	s.Empty(all)
}

func (s *ServerSuite) TestImportReplaceAll() {
	s.seedCoffee()
	rr := s.upload("/backup/import?replace_all=true", "backup.json", twoCoffees)
	s.Require().Equal(http.StatusOK, rr.Code)
	var out importResponse
	s.decode(rr, &out)
	s.Equal(3, out.Inserted)
	s.Equal(0, out.Conflicts)
	s.Equal(http.StatusNoContent, s.do(http.MethodGet, "/backup/conflicts/next", "").Code)
}

func (s *ServerSuite) TestRateLimitOnlyMutating() {
	s.Require().NoError(s.srv.Shutdown(s.ctx))
	s.srv = s.newServer(ratelimit.Config{RequestsPerMinute: 1})

	s.Equal(http.StatusCreated, s.do(http.MethodPost, "/categories", `{"name": "Bar"}`).Code)
	s.Equal(http.StatusTooManyRequests, s.do(http.MethodPost, "/categories", `{"name": "Pub"}`).Code)
	s.Equal(http.StatusOK, s.do(http.MethodGet, "/categories", "").Code)
	s.Equal(http.StatusOK, s.do(http.MethodGet, "/categories", "").Code)
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}
