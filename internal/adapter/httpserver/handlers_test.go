package httpserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpserver "github.com/fairyhunter13/ai-interview-orchestrator/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/config"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/domain"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/usecase"
)

type fakeProvisioner struct {
	got usecase.ProvisionRequest
	res usecase.ProvisionResult
	err error
}

func (f *fakeProvisioner) Provision(_ context.Context, req usecase.ProvisionRequest) (usecase.ProvisionResult, error) {
	f.got = req
	return f.res, f.err
}

type fakeIngester struct {
	key   string
	body  string
	appID string
	err   error
}

func (f *fakeIngester) Ingest(_ context.Context, presented string, body []byte) (string, error) {
	f.key = presented
	f.body = string(body)
	return f.appID, f.err
}

func (f *fakeIngester) Authenticate(presented string) bool { return presented == "secret" }

type fakeReviewer struct {
	status domain.ApplicationStatus
	err    error
}

func (f fakeReviewer) Decide(_ context.Context, _, _ string) (domain.ApplicationStatus, error) {
	return f.status, f.err
}

type fakeReader struct {
	view usecase.ApplicationView
	err  error
}

func (f fakeReader) Get(_ context.Context, _ string) (usecase.ApplicationView, error) {
	return f.view, f.err
}

func newTestServer() (*httpserver.Server, *fakeProvisioner, *fakeIngester) {
	p := &fakeProvisioner{}
	in := &fakeIngester{}
	s := httpserver.NewServer(config.Config{}, p, in, fakeReviewer{}, fakeReader{}, nil, nil)
	return s, p, in
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error.Code
}

func TestProvisionHandler_OK(t *testing.T) {
	s, p, _ := newTestServer()
	exp := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)
	p.res = usecase.ProvisionResult{
		ApplicationID: "app-1",
		Token:         "jwt",
		RoomName:      "interview-abc-01j",
		RoomCode:      "4567891234",
		ExpiresAt:     exp,
		Metadata:      `{"roomType":"interview"}`,
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/interviews", strings.NewReader(`{"jobId":"J1","phone":"+1 (555) 123-4567","name":"Ana"}`))
	s.ProvisionHandler()(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, usecase.ProvisionRequest{JobID: "J1", Phone: "+1 (555) 123-4567", Name: "Ana"}, p.got)
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "jwt", body["token"])
	assert.Equal(t, "interview-abc-01j", body["roomName"])
	assert.Equal(t, "4567891234", body["roomCode"])
	assert.Equal(t, "app-1", body["applicationId"])
	assert.Equal(t, "2025-03-01T12:30:00Z", body["expiresAt"])
	assert.Equal(t, `{"roomType":"interview"}`, body["metadata"])
}

func TestProvisionHandler_Validation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"malformed", `{`},
		{"missing job", `{"phone":"0796026659"}`},
		{"missing phone", `{"jobId":"J1"}`},
		{"phone too short", `{"jobId":"J1","phone":"9"}`},
		{"name too long", `{"jobId":"J1","phone":"0796026659","name":"` + strings.Repeat("a", 201) + `"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, _, _ := newTestServer()
			rec := httptest.NewRecorder()
			s.ProvisionHandler()(rec, httptest.NewRequest(http.MethodPost, "/v1/interviews", strings.NewReader(tc.body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "INVALID_ARGUMENT", errorCode(t, rec))
		})
	}
}

func TestProvisionHandler_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"job", fmt.Errorf("op=provision.job: %w", domain.ErrJobNotFound), http.StatusNotFound, "JOB_NOT_FOUND"},
		{"provider", fmt.Errorf("op=livekit.create_room: %w", domain.ErrProviderUnavailable), http.StatusServiceUnavailable, "PROVIDER_UNAVAILABLE"},
		{"throttled", &usecase.RateLimitError{RetryAfter: 3 * time.Second}, http.StatusTooManyRequests, "RATE_LIMITED"},
		{"exhausted", fmt.Errorf("op=provision.session: %w", domain.ErrConflict), http.StatusConflict, "CONFLICT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, p, _ := newTestServer()
			p.err = tc.err
			rec := httptest.NewRecorder()
			s.ProvisionHandler()(rec, httptest.NewRequest(http.MethodPost, "/v1/interviews", strings.NewReader(`{"jobId":"J1","phone":"0796026659"}`)))
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, errorCode(t, rec))
		})
	}
}

func TestProvisionHandler_RetryAfterHeader(t *testing.T) {
	s, p, _ := newTestServer()
	p.err = fmt.Errorf("op=provision.throttle: %w", &usecase.RateLimitError{RetryAfter: 3 * time.Second})
	rec := httptest.NewRecorder()
	s.ProvisionHandler()(rec, httptest.NewRequest(http.MethodPost, "/v1/interviews", strings.NewReader(`{"jobId":"J1","phone":"0796026659"}`)))
	assert.Equal(t, "3", rec.Header().Get("Retry-After"))
}

func TestProvisionHandler_NotAcceptable(t *testing.T) {
	s, _, _ := newTestServer()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/interviews", strings.NewReader(`{"jobId":"J1","phone":"0796026659"}`))
	req.Header.Set("Accept", "text/html")
	s.ProvisionHandler()(rec, req)
	assert.Equal(t, http.StatusNotAcceptable, rec.Code)
}

func TestAnalysisCallbackHandler_Outcomes(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		want   string
	}{
		{"accepted", nil, http.StatusAccepted, "accepted"},
		{"stale", fmt.Errorf("op=ingest.guard: %w", domain.ErrStaleWrite), http.StatusAccepted, "ignored"},
		{"auth", fmt.Errorf("op=ingest.auth: %w", domain.ErrAuthFailed), http.StatusUnauthorized, ""},
		{"unknown", fmt.Errorf("op=ingest.load: %w", domain.ErrNotFound), http.StatusNotFound, ""},
		{"invalid", fmt.Errorf("%w: score", domain.ErrInvalidPayload), http.StatusUnprocessableEntity, ""},
		{"store", errors.New("connection reset"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, _, in := newTestServer()
			in.appID = "app-1"
			in.err = tc.err
			body := `{"applicationId":"app-1","score":87}`
			req := httptest.NewRequest(http.MethodPost, "/v1/analysis/callback", strings.NewReader(body))
			req.Header.Set(httpserver.SystemKeyHeader, "secret")
			rec := httptest.NewRecorder()
			s.AnalysisCallbackHandler()(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, "secret", in.key)
			assert.Equal(t, body, in.body)
			if tc.want != "" {
				var got map[string]string
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
				assert.Equal(t, tc.want, got["status"])
				assert.Equal(t, "app-1", got["applicationId"])
			}
		})
	}
}

func TestDecisionHandler(t *testing.T) {
	route := func(s *httpserver.Server) http.Handler {
		r := chi.NewRouter()
		r.Post("/v1/applications/{id}/decision", s.DecisionHandler())
		return r
	}

	s, _, _ := newTestServer()
	s.Review = fakeReviewer{status: domain.StatusCompleted}
	rec := httptest.NewRecorder()
	route(s).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/applications/app-1/decision", strings.NewReader(`{"decision":"complete"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "COMPLETED", body["status"])

	rec = httptest.NewRecorder()
	route(s).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/applications/app-1/decision", strings.NewReader(`{"decision":"maybe"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.Review = fakeReviewer{status: domain.StatusInProgress, err: fmt.Errorf("op=review.decide: %w", domain.ErrStaleWrite)}
	rec = httptest.NewRecorder()
	route(s).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/applications/app-1/decision", strings.NewReader(`{"decision":"reject"}`)))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "STALE_WRITE", errorCode(t, rec))
}

func TestApplicationHandler(t *testing.T) {
	score := 87.0
	analyzed := time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC)
	s, _, _ := newTestServer()
	s.Query = fakeReader{view: usecase.ApplicationView{
		Application: domain.Application{
			ID: "app-1", CandidateID: "c-1", JobID: "J1", Status: domain.StatusAnalyzed,
			Score: &score, Result: json.RawMessage(`{"summary":"ok"}`), AnalyzedAt: &analyzed,
		},
		Session: &domain.InterviewSession{RoomName: "interview-x", RoomCode: "1234560001"},
	}}
	r := chi.NewRouter()
	r.Get("/v1/applications/{id}", s.ApplicationHandler())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/applications/app-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body httpserver.ApplicationEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ANALYZED", body.Status)
	require.NotNil(t, body.Score)
	assert.Equal(t, 87.0, *body.Score)
	assert.JSONEq(t, `{"summary":"ok"}`, string(body.Result))
	assert.Equal(t, []string{}, body.Recommendations)
	require.NotNil(t, body.Session)
	assert.Equal(t, "interview-x", body.Session.RoomName)

	s.Query = fakeReader{err: fmt.Errorf("op=application.query: %w", domain.ErrNotFound)}
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/applications/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReadyzHandler(t *testing.T) {
	s, _, _ := newTestServer()
	s.DBCheck = func(context.Context) error { return nil }
	s.RedisCheck = func(context.Context) error { return nil }
	rec := httptest.NewRecorder()
	s.ReadyzHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	s.RedisCheck = func(context.Context) error { return errors.New("redis down") }
	rec = httptest.NewRecorder()
	s.ReadyzHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis down")
}

func TestOpenAPIServe(t *testing.T) {
	s, _, _ := newTestServer()
	rec := httptest.NewRecorder()
	s.OpenAPIServe()(rec, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, os.MkdirAll("api", 0o750))
	t.Cleanup(func() { _ = os.RemoveAll("api") })
	require.NoError(t, os.WriteFile("api/openapi.yaml", []byte("openapi: 3.0.3\n"), 0o600))
	rec = httptest.NewRecorder()
	s.OpenAPIServe()(rec, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/yaml")
}

func TestRequireSystemKey(t *testing.T) {
	_, _, in := newTestServer()
	h := httpserver.RequireSystemKey(in.Authenticate)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/applications/x", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/applications/x", nil)
	req.Header.Set(httpserver.SystemKeyHeader, "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req.Header.Set(httpserver.SystemKeyHeader, "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	httpserver.RequireSystemKey(nil)(h).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
