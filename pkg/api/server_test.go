package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pario-ai/polyglot/pkg/batch"
	"github.com/pario-ai/polyglot/pkg/dispatch"
	"github.com/pario-ai/polyglot/pkg/models"
)

type fakeService struct {
	lastReq     models.ConversionRequest
	result      models.ConversionResult
	err         error
	report      batch.Report
	batchErr    error
	statuses    []models.ProviderStatus
	stats       models.EngineStats
	cacheStats  models.CacheStats
	clearedOnly *bool
	resetID     string
	history     []models.ConversionRecord
	histErr     error
	histLimit   int
	settings    models.EngineSettings
	providers   []models.ProviderDescriptor
}

func (f *fakeService) Submit(_ context.Context, req models.ConversionRequest) (models.ConversionResult, error) {
	f.lastReq = req
	return f.result, f.err
}

func (f *fakeService) SubmitBatch(_ context.Context, _ []models.ConversionRequest, _ int, _ time.Duration) (batch.Report, error) {
	return f.report, f.batchErr
}

func (f *fakeService) ProviderStatus() []models.ProviderStatus { return f.statuses }
func (f *fakeService) Stats() models.EngineStats               { return f.stats }
func (f *fakeService) CacheStats() models.CacheStats           { return f.cacheStats }

func (f *fakeService) ResetProvider(id string) error {
	if id != "a" {
		return errors.New("provider not found")
	}
	f.resetID = id
	return nil
}

func (f *fakeService) ClearCache(expiredOnly bool) (int, error) {
	f.clearedOnly = &expiredOnly
	return 2, nil
}

func (f *fakeService) History(_ context.Context, limit int) ([]models.ConversionRecord, error) {
	f.histLimit = limit
	return f.history, f.histErr
}

func (f *fakeService) Settings() models.EngineSettings        { return f.settings }
func (f *fakeService) Providers() []models.ProviderDescriptor { return f.providers }

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode: %v\nbody: %s", err, w.Body.String())
	}
	return v
}

func TestConvert(t *testing.T) {
	svc := &fakeService{result: models.ConversionResult{Code: "fn x() {}", Provider: "a", Confidence: 88}}
	srv := New(svc, Options{})

	w := do(t, srv, http.MethodPost, "/v1/convert",
		`{"source_code":"def x(): pass","source_language":"python","target_language":"rust"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Polyglot-Cache") != "miss" {
		t.Errorf("cache header = %q", w.Header().Get("X-Polyglot-Cache"))
	}
	if svc.lastReq.TargetLanguage != "rust" {
		t.Errorf("request not forwarded: %+v", svc.lastReq)
	}
	res := decode[models.ConversionResult](t, w)
	if res.Code != "fn x() {}" || res.Confidence != 88 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestConvertErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
		kind string
	}{
		{&dispatch.ConversionError{Kind: dispatch.KindInvalidRequest, Message: "bad"}, http.StatusBadRequest, "invalid_request"},
		{&dispatch.ConversionError{Kind: dispatch.KindUnsupportedLanguagePair, Message: "no"}, http.StatusUnprocessableEntity, "unsupported_language_pair"},
		{&dispatch.ConversionError{Kind: dispatch.KindTimeout, Message: "slow"}, http.StatusGatewayTimeout, "timeout"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		srv := New(&fakeService{err: tt.err}, Options{})
		w := do(t, srv, http.MethodPost, "/v1/convert", `{"source_code":"x"}`)
		if w.Code != tt.code {
			t.Errorf("%v: status = %d, want %d", tt.err, w.Code, tt.code)
		}
		body := decode[errorBody](t, w)
		if body.Error.Type != tt.kind {
			t.Errorf("%v: type = %q, want %q", tt.err, body.Error.Type, tt.kind)
		}
	}
}

func TestConvertAllUnavailableListsAttempts(t *testing.T) {
	err := &dispatch.ConversionError{
		Kind:    dispatch.KindAllProvidersUnavailable,
		Message: "no provider could serve the request",
		Attempts: []dispatch.Attempt{
			{Provider: "a", Outcome: dispatch.OutcomeQuota},
			{Provider: "b", Outcome: dispatch.OutcomeFailed, Err: errors.New("500")},
		},
	}
	srv := New(&fakeService{err: err}, Options{})
	w := do(t, srv, http.MethodPost, "/v1/convert", `{}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
	body := decode[errorBody](t, w)
	if len(body.Error.Attempts) != 2 {
		t.Fatalf("attempts = %+v", body.Error.Attempts)
	}
	if body.Error.Attempts[0].Outcome != "quota_exceeded" || body.Error.Attempts[1].Error != "500" {
		t.Errorf("unexpected attempts: %+v", body.Error.Attempts)
	}
}

func TestConvertBadBody(t *testing.T) {
	srv := New(&fakeService{}, Options{})
	w := do(t, srv, http.MethodPost, "/v1/convert", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestConvertBodyTooLarge(t *testing.T) {
	srv := New(&fakeService{}, Options{MaxBodyBytes: 16})
	w := do(t, srv, http.MethodPost, "/v1/convert", `{"source_code":"`+strings.Repeat("x", 64)+`"}`)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}
}

func TestConvertMethodNotAllowed(t *testing.T) {
	srv := New(&fakeService{}, Options{})
	w := do(t, srv, http.MethodGet, "/v1/convert", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestConvertBatch(t *testing.T) {
	res := models.ConversionResult{Code: "ok", Provider: "a"}
	svc := &fakeService{report: batch.Report{
		ID: "b-1",
		Items: []batch.Item{
			{Index: 0, Request: models.ConversionRequest{SourceLanguage: "python", TargetLanguage: "go"}, Result: &res},
			{Index: 1, Request: models.ConversionRequest{SourceLanguage: "cobol", TargetLanguage: "go"},
				Err: &dispatch.ConversionError{Kind: dispatch.KindUnsupportedLanguagePair, Message: "no provider"}},
		},
		Summary: batch.Summary{Total: 2, Succeeded: 1, Failed: 1},
	}}
	srv := New(svc, Options{})

	w := do(t, srv, http.MethodPost, "/v1/convert/batch", `{"requests":[{},{}],"max_concurrency":2}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	rep := decode[reportView](t, w)
	if rep.ID != "b-1" || len(rep.Items) != 2 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if rep.Items[0].Status != batch.StatusSucceeded || rep.Items[0].Result == nil {
		t.Errorf("item 0: %+v", rep.Items[0])
	}
	if rep.Items[1].ErrorKind != "unsupported_language_pair" || rep.Items[1].Status != batch.StatusFailed {
		t.Errorf("item 1: %+v", rep.Items[1])
	}
}

func TestConvertBatchErrors(t *testing.T) {
	srv := New(&fakeService{}, Options{})
	if w := do(t, srv, http.MethodPost, "/v1/convert/batch", `{"requests":[]}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty batch status = %d, want 400", w.Code)
	}

	srv = New(&fakeService{batchErr: batch.ErrBatchTooLarge}, Options{})
	if w := do(t, srv, http.MethodPost, "/v1/convert/batch", `{"requests":[{}]}`); w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("too large status = %d, want 413", w.Code)
	}
}

func TestProvidersAndReset(t *testing.T) {
	svc := &fakeService{statuses: []models.ProviderStatus{{ProviderID: "a", Enabled: true, QuotaRemainingMinute: -1, QuotaRemainingHour: -1}}}
	srv := New(svc, Options{})

	w := do(t, srv, http.MethodGet, "/v1/providers", "")
	body := decode[map[string][]models.ProviderStatus](t, w)
	if len(body["providers"]) != 1 || body["providers"][0].ProviderID != "a" {
		t.Errorf("unexpected providers: %+v", body)
	}

	if w := do(t, srv, http.MethodPost, "/v1/providers/a/reset", ""); w.Code != http.StatusNoContent {
		t.Errorf("reset status = %d, want 204", w.Code)
	}
	if svc.resetID != "a" {
		t.Errorf("reset id = %q", svc.resetID)
	}
	if w := do(t, srv, http.MethodPost, "/v1/providers/zzz/reset", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown reset status = %d, want 404", w.Code)
	}
}

func TestCacheEndpoints(t *testing.T) {
	svc := &fakeService{cacheStats: models.CacheStats{Entries: 3, Hits: 3, Misses: 1}}
	srv := New(svc, Options{})

	w := do(t, srv, http.MethodGet, "/v1/cache/stats", "")
	stats := decode[map[string]any](t, w)
	if stats["hit_rate"] != 0.75 || stats["entries"] != float64(3) {
		t.Errorf("unexpected cache stats: %+v", stats)
	}

	w = do(t, srv, http.MethodDelete, "/v1/cache?expired=true", "")
	if w.Code != http.StatusOK || svc.clearedOnly == nil || !*svc.clearedOnly {
		t.Errorf("expected expired-only clear, status %d", w.Code)
	}
	if got := decode[map[string]any](t, w)["removed"]; got != float64(2) {
		t.Errorf("removed = %v, want 2", got)
	}
}

func TestHistory(t *testing.T) {
	svc := &fakeService{
		history: []models.ConversionRecord{{SourceLanguage: "python", TargetLanguage: "go", Succeeded: true}},
		stats:   models.EngineStats{Total: 4, SuccessRate: 0.5},
	}
	srv := New(svc, Options{})

	w := do(t, srv, http.MethodGet, "/v1/history?limit=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if svc.histLimit != 5 {
		t.Errorf("limit = %d, want 5", svc.histLimit)
	}
	body := decode[map[string]any](t, w)
	if body["total_count"] != float64(4) || body["success_rate"] != 0.5 {
		t.Errorf("unexpected body: %+v", body)
	}

	if w := do(t, srv, http.MethodGet, "/v1/history?limit=abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", w.Code)
	}

	srv = New(&fakeService{histErr: errors.New("conversion history is disabled")}, Options{})
	if w := do(t, srv, http.MethodGet, "/v1/history", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("disabled status = %d, want 503", w.Code)
	}
}

func TestConfig(t *testing.T) {
	svc := &fakeService{
		settings: models.EngineSettings{
			Languages:      []string{"python", "go", "cobol"},
			Styles:         models.ConversionStyles,
			MaxSourceBytes: 1000,
			MaxBatchSize:   10,
			CallTimeout:    30 * time.Second,
			CacheEnabled:   true,
		},
		providers: []models.ProviderDescriptor{{ID: "a", Priority: 1, Tier: models.TierPremium, Enabled: true}},
	}
	srv := New(svc, Options{MaxBodyBytes: 4096})

	w := do(t, srv, http.MethodGet, "/v1/config", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	body := decode[struct {
		Languages []languageView              `json:"languages"`
		Styles    []string                    `json:"conversion_styles"`
		Providers []models.ProviderDescriptor `json:"providers"`
		Limits    map[string]float64          `json:"limits"`
		Features  map[string]bool             `json:"features"`
	}](t, w)

	if len(body.Languages) != 3 || body.Languages[0].Name != "python" || body.Languages[0].Extensions[0] != ".py" {
		t.Errorf("languages = %+v", body.Languages)
	}
	if body.Languages[2].Extensions == nil || len(body.Languages[2].Extensions) != 0 {
		t.Errorf("unknown language should list no extensions: %+v", body.Languages[2])
	}
	if len(body.Styles) != 4 {
		t.Errorf("styles = %v", body.Styles)
	}
	if len(body.Providers) != 1 || body.Providers[0].ID != "a" {
		t.Errorf("providers = %+v", body.Providers)
	}
	if body.Limits["max_source_bytes"] != 1000 || body.Limits["max_body_bytes"] != 4096 || body.Limits["call_timeout_seconds"] != 30 {
		t.Errorf("limits = %v", body.Limits)
	}
	if !body.Features["cache"] || body.Features["history"] {
		t.Errorf("features = %v", body.Features)
	}
	if strings.Contains(w.Body.String(), "api_key") {
		t.Error("config view leaks provider credentials")
	}
}

func TestDetectLanguage(t *testing.T) {
	svc := &fakeService{settings: models.EngineSettings{Languages: []string{"python", "go"}}}
	srv := New(svc, Options{})

	type detection struct {
		Language   string `json:"detected_language"`
		Confidence string `json:"confidence"`
		Supported  bool   `json:"supported"`
	}
	tests := []struct {
		name string
		body string
		want detection
	}{
		{"filename", `{"code":"x = 1","filename":"main.go"}`, detection{"go", "high", true}},
		{"content", `{"code":"def f(x):\n    return x // 2\n"}`, detection{"python", "medium", true}},
		{"unsupported", `{"code":"","filename":"App.java"}`, detection{"java", "high", false}},
		{"unknown", `{"code":"","filename":"notes.txt"}`, detection{"", "low", false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, http.MethodPost, "/v1/detect-language", tt.body)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
			}
			if got := decode[detection](t, w); got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}

	if w := do(t, srv, http.MethodPost, "/v1/detect-language", `{"code":"  "}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty input status = %d, want 400", w.Code)
	}
}

func TestHealth(t *testing.T) {
	healthy := &fakeService{statuses: []models.ProviderStatus{
		{ProviderID: "a", Enabled: true, CircuitOpen: true},
		{ProviderID: "b", Enabled: true, QuotaRemainingMinute: 5, QuotaRemainingHour: -1},
	}}
	w := do(t, New(healthy, Options{}), http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if got := decode[map[string]any](t, w)["available_providers"]; got != float64(1) {
		t.Errorf("available = %v, want 1", got)
	}

	exhausted := &fakeService{statuses: []models.ProviderStatus{
		{ProviderID: "a", Enabled: true, QuotaRemainingMinute: 0, QuotaRemainingHour: 10},
	}}
	if w := do(t, New(exhausted, Options{}), http.MethodGet, "/healthz", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	w := do(t, New(&fakeService{}, Options{}), http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("expected default Go collector output")
	}
}

func TestRateLimitPerClient(t *testing.T) {
	srv := New(&fakeService{}, Options{RateLimit: 1, RateBurst: 2})

	for i := range 2 {
		if w := do(t, srv, http.MethodGet, "/v1/stats", ""); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, w.Code)
		}
	}
	w := do(t, srv, http.MethodGet, "/v1/stats", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	other := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	other.RemoteAddr = "198.51.100.7:4000"
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", rec.Code)
	}

	if w := do(t, srv, http.MethodGet, "/healthz", ""); w.Code == http.StatusTooManyRequests {
		t.Error("health checks must not be throttled")
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := New(&fakeService{}, Options{AllowedOrigins: []string{"http://localhost:*"}})

	req := httptest.NewRequest(http.MethodOptions, "/v1/convert", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allow origin = %q", got)
	}
}

func TestClientLimiterForgetsIdleClients(t *testing.T) {
	l := newClientLimiter(1, 1)
	now := time.Unix(1_700_000_000, 0)

	if !l.allow("a", now) {
		t.Fatal("first request should pass")
	}
	if l.allow("a", now) {
		t.Fatal("second immediate request should be throttled")
	}

	later := now.Add(time.Hour)
	l.allow("b", later)
	if _, ok := l.limiters["a"]; ok {
		t.Error("idle client should have been dropped")
	}
}
