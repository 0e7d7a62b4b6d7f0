package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/arkadianet/davgate/internal/auth"
	"github.com/arkadianet/davgate/internal/calendar"
	"github.com/arkadianet/davgate/internal/config"
	"github.com/arkadianet/davgate/internal/contacts"
	"github.com/arkadianet/davgate/internal/dav"
	"github.com/arkadianet/davgate/internal/files"
	"github.com/arkadianet/davgate/internal/store"
)

const testToken = "agent-secret"

// fakeDoer replays canned upstream responses and records the requests.
type fakeDoer struct {
	mu       sync.Mutex
	requests []*http.Request
	replies  []fakeReply
}

type fakeReply struct {
	status int
	body   string
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	reply := fakeReply{status: http.StatusOK}
	if len(f.replies) > 0 {
		reply = f.replies[0]
		f.replies = f.replies[1:]
	}
	return &http.Response{
		StatusCode: reply.status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(reply.body)),
	}, nil
}

// auditPool satisfies store.PgxPool for verifying the audit middleware.
// Only Exec and Ping are expected to run.
type auditPool struct {
	mu    sync.Mutex
	execs []string
}

func (p *auditPool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.execs = append(p.execs, sql)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (p *auditPool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("unexpected Query")
}

func (p *auditPool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

func (p *auditPool) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	return nil, errors.New("unexpected BeginTx")
}

func (p *auditPool) Ping(ctx context.Context) error { return nil }

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.RateLimit.PerSecond = 100
	cfg.RateLimit.Burst = 100
	return cfg
}

func testAuth(t *testing.T) *auth.Service {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testToken), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	svc, err := auth.NewService(context.Background(), string(hash), "", "")
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}
	return svc
}

func newTestRouter(t *testing.T, doer *fakeDoer, pool *auditPool) http.Handler {
	t.Helper()

	newClient := func(base string) *dav.Client {
		c, err := dav.NewClient(base, dav.Options{Doer: doer})
		if err != nil {
			t.Fatalf("dav.NewClient: %v", err)
		}
		return c
	}

	services := Services{
		Auth:     testAuth(t),
		Files:    files.NewService(newClient("http://upstream.example/files/")),
		Calendar: calendar.NewService(newClient("http://upstream.example/cal/")),
		Contacts: contacts.NewService(newClient("http://upstream.example/card/")),
	}
	if pool != nil {
		services.Audit = store.New(pool)
	}
	return NewRouter(testConfig(), services)
}

func doRequest(t *testing.T, h http.Handler, method, target, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, target, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h := newTestRouter(t, &fakeDoer{}, nil)
	rec := doRequest(t, h, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestReadyzWithoutStore(t *testing.T) {
	h := newTestRouter(t, &fakeDoer{}, nil)
	rec := doRequest(t, h, http.MethodGet, "/readyz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	h := newTestRouter(t, &fakeDoer{}, nil)

	rec := doRequest(t, h, http.MethodGet, "/api/files/list?dir=/", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if got := rec.Header().Get("WWW-Authenticate"); !strings.Contains(got, "Bearer") {
		t.Errorf("WWW-Authenticate = %q", got)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/files/list?dir=/", "wrong-token", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d, want 401", rec.Code)
	}
}

func TestMissingServiceAnswers503(t *testing.T) {
	services := Services{Auth: testAuth(t)}
	h := NewRouter(testConfig(), services)

	for _, target := range []string{
		"/api/files/list?dir=/",
		"/api/calendar/events",
		"/api/contacts/",
		"/api/audit/recent",
	} {
		rec := doRequest(t, h, http.MethodGet, target, testToken, "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: status = %d, want 503", target, rec.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Errorf("%s: body not JSON: %v", target, err)
		}
	}
}

const routerListingXML = `<?xml version="1.0" encoding="utf-8"?>
<d:multistatus xmlns:d="DAV:">
  <d:response>
    <d:href>/files/</d:href>
    <d:propstat>
      <d:prop><d:resourcetype><d:collection/></d:resourcetype></d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
  <d:response>
    <d:href>/files/notes.txt</d:href>
    <d:propstat>
      <d:prop>
        <d:displayname>notes.txt</d:displayname>
        <d:resourcetype/>
        <d:getcontentlength>12</d:getcontentlength>
        <d:getcontenttype>text/plain</d:getcontenttype>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`

func TestListFilesThroughRouter(t *testing.T) {
	doer := &fakeDoer{replies: []fakeReply{{status: 207, body: routerListingXML}}}
	h := newTestRouter(t, doer, nil)

	rec := doRequest(t, h, http.MethodGet, "/api/files/list?dir=/", testToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Entries []files.Entry `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Entries) != 1 || body.Entries[0].Name != "notes.txt" {
		t.Errorf("entries = %+v", body.Entries)
	}
	if doer.requests[0].Method != "PROPFIND" {
		t.Errorf("upstream method = %s", doer.requests[0].Method)
	}
}

func TestMissingQueryParamIs400(t *testing.T) {
	h := newTestRouter(t, &fakeDoer{}, nil)
	rec := doRequest(t, h, http.MethodGet, "/api/files/stat", testToken, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestInvalidPatchBodyIs400(t *testing.T) {
	h := newTestRouter(t, &fakeDoer{}, nil)

	rec := doRequest(t, h, http.MethodPatch, "/api/calendar/events/abc", testToken,
		`{"SUMMARY": 5}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body not JSON: %v", err)
	}
	if body["error"] == "" {
		t.Error("want error message in body")
	}
}

func TestUpstreamFailureIs502(t *testing.T) {
	// 409 is not retried, so the conflict surfaces on the first attempt.
	doer := &fakeDoer{replies: []fakeReply{{status: 409, body: "conflict"}}}
	h := newTestRouter(t, doer, nil)

	rec := doRequest(t, h, http.MethodPost, "/api/files/mkdir", testToken,
		`{"path": "/new-dir"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Error          string `json:"error"`
		UpstreamStatus int    `json:"upstream_status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.UpstreamStatus != 409 {
		t.Errorf("upstream_status = %d, want 409", body.UpstreamStatus)
	}
}

func TestNotFoundMapsTo404(t *testing.T) {
	doer := &fakeDoer{replies: []fakeReply{{status: 404, body: "gone"}}}
	h := newTestRouter(t, doer, nil)

	rec := doRequest(t, h, http.MethodGet, "/api/calendar/events/nope", testToken, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestAuditMiddlewareRecordsInvocation(t *testing.T) {
	doer := &fakeDoer{replies: []fakeReply{{status: 207, body: routerListingXML}}}
	pool := &auditPool{}
	h := newTestRouter(t, doer, pool)

	rec := doRequest(t, h, http.MethodGet, "/api/files/list?dir=/", testToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	pool.mu.Lock()
	defer pool.mu.Unlock()
	if len(pool.execs) != 1 {
		t.Fatalf("exec count = %d, want 1", len(pool.execs))
	}
	if !strings.Contains(pool.execs[0], "INSERT INTO tool_invocations") {
		t.Errorf("unexpected statement: %s", pool.execs[0])
	}
}

func TestRateLimitExceeded(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.PerSecond = 1
	cfg.RateLimit.Burst = 1

	services := Services{Auth: testAuth(t)}
	h := NewRouter(cfg, services)

	first := doRequest(t, h, http.MethodGet, "/api/files/list?dir=/", testToken, "")
	if first.Code == http.StatusTooManyRequests {
		t.Fatalf("first request already limited")
	}
	second := doRequest(t, h, http.MethodGet, "/api/files/list?dir=/", testToken, "")
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", second.Code)
	}
}

func TestMetricsEndpointToggle(t *testing.T) {
	services := Services{Auth: testAuth(t)}

	off := NewRouter(testConfig(), services)
	if rec := doRequest(t, off, http.MethodGet, "/metrics", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("disabled /metrics status = %d, want 404", rec.Code)
	}

	cfg := testConfig()
	cfg.PrometheusEnabled = true
	on := NewRouter(cfg, services)
	if rec := doRequest(t, on, http.MethodGet, "/metrics", "", ""); rec.Code != http.StatusOK {
		t.Errorf("enabled /metrics status = %d, want 200", rec.Code)
	}
}
