package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"trackerd/internal/mailer"
	"trackerd/internal/model"
	"trackerd/internal/notify"
	"trackerd/internal/presence"
	"trackerd/internal/realtime"
	"trackerd/internal/scheduler"
	"trackerd/internal/storage/storagetest"
	logx "trackerd/pkg/logx"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testSecret = "test-secret"
	// serviceUser's tokens carry ScopeService.
	serviceUser = "dispatcher"
)

type harness struct {
	srv      *Server
	notify   *notify.Service
	presence *presence.Registry
}

func newHarness(t *testing.T, mod func(*Deps)) *harness {
	t.Helper()
	store := storagetest.New(t)
	reg := presence.New()
	hub := realtime.NewHub(8)
	svc := notify.New(notify.Config{}, store, reg, hub, logx.Nop())

	deps := Deps{Notifications: svc, Streams: hub, Presence: reg}
	if mod != nil {
		mod(&deps)
	}
	srv := New(Config{JWTSecret: testSecret, Heartbeat: time.Hour, SweepJob: "maintenance.sweep"}, deps, logx.Nop())
	return &harness{srv: srv, notify: svc, presence: reg}
}

func token(t *testing.T, userID string) string {
	t.Helper()
	var scopes []string
	if userID == serviceUser {
		scopes = []string{ScopeService}
	}
	tok, err := GenerateToken(testSecret, userID, time.Hour, scopes...)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return tok
}

func (h *harness) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, user))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestJWTAuth(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	other, err := GenerateToken("another-secret", "u1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing", header: "", want: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer not-a-jwt", want: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + other, want: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + token(t, "u1"), want: http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications/unread-count", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		rec := httptest.NewRecorder()
		h.srv.Handler().ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Fatalf("%s: status = %d, want %d", tt.name, rec.Code, tt.want)
		}
	}
}

func TestDispatchListAndMarkRead(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/api/v1/internal/notifications", serviceUser, map[string]any{
		"recipients": []model.Recipient{{ID: "u1"}, {ID: "u2"}},
		"title":      "Issue assigned",
		"message":    "ISS-7 is yours",
		"related":    model.Related{EntityType: "issue", EntityID: "ISS-7"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("dispatch status = %d body=%s", rec.Code, rec.Body.String())
	}
	created := decode[struct {
		Notifications []model.Notification `json:"notifications"`
	}](t, rec).Notifications
	if len(created) != 2 || created[0].RecipientID != "u1" || *created[0].RelatedEntityID != "ISS-7" {
		t.Fatalf("created = %+v", created)
	}

	rec = h.do(t, http.MethodGet, "/api/v1/notifications?page=1&limit=10&unread=true", "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	page := decode[notify.Page](t, rec)
	if page.Total != 1 || len(page.Items) != 1 || page.Items[0].ID != created[0].ID {
		t.Fatalf("page = %+v", page)
	}

	path := "/api/v1/notifications/" + created[0].ID + "/read"
	for i, wantChanged := range []bool{true, false} {
		rec = h.do(t, http.MethodPut, path, "u1", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("mark read #%d status = %d", i, rec.Code)
		}
		if got := decode[map[string]any](t, rec)["changed"]; got != wantChanged {
			t.Fatalf("mark read #%d changed = %v", i, got)
		}
	}

	// u2 cannot touch u1's record.
	if rec = h.do(t, http.MethodPut, path, "u2", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("foreign mark read status = %d", rec.Code)
	}

	rec = h.do(t, http.MethodGet, "/api/v1/notifications/unread-count", "u1", nil)
	if got := decode[map[string]int](t, rec)["unread"]; got != 0 {
		t.Fatalf("unread = %d", got)
	}

	rec = h.do(t, http.MethodPut, "/api/v1/notifications/read-all", "u2", nil)
	if got := decode[map[string]int](t, rec)["updated"]; got != 1 {
		t.Fatalf("read-all updated = %d", got)
	}
}

func TestListRejectsBadQuery(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	for _, q := range []string{"page=x", "limit=1.5", "unread=maybe"} {
		if rec := h.do(t, http.MethodGet, "/api/v1/notifications?"+q, "u1", nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", q, rec.Code)
		}
	}
}

func TestDispatchValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/api/v1/internal/notifications", serviceUser, map[string]any{"title": "t"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing message status = %d", rec.Code)
	}
	rec = h.do(t, http.MethodPost, "/api/v1/internal/notifications", serviceUser, map[string]any{
		"recipients": []model.Recipient{{ID: " "}}, "title": "t", "message": "m",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank recipient status = %d", rec.Code)
	}
}

type failingNotifications struct {
	Notifications
}

func (failingNotifications) Dispatch(context.Context, []model.Recipient, string, string, *model.Related) ([]model.Notification, error) {
	return nil, &notify.PersistenceError{RecipientID: "u2", Index: 1, Err: errors.New("disk full")}
}

func TestDispatchPersistenceFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(d *Deps) { d.Notifications = failingNotifications{} })

	rec := h.do(t, http.MethodPost, "/api/v1/internal/notifications", serviceUser, map[string]any{
		"recipients": []model.Recipient{{ID: "u1"}, {ID: "u2"}}, "title": "t", "message": "m",
	})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["recipient_id"] != "u2" || body["index"] != float64(1) {
		t.Fatalf("body = %+v", body)
	}
	if _, ok := body["notifications"]; ok {
		t.Fatalf("failed dispatch must not return records: %+v", body)
	}
}

func TestInternalRoutesRequireServiceScope(t *testing.T) {
	t.Parallel()
	sent := 0
	jobs := &fakeJobs{started: true}
	h := newHarness(t, func(d *Deps) {
		d.Jobs = jobs
		d.Mailer = mailFunc(func(context.Context, string, string, string) error { sent++; return nil })
	})

	tests := []struct {
		path string
		body any
	}{
		{path: "/api/v1/internal/notifications", body: map[string]any{
			"recipients": []model.Recipient{{ID: "victim"}}, "title": "t", "message": "m",
		}},
		{path: "/api/v1/internal/maintenance/sweep"},
		{path: "/api/v1/internal/mail/test", body: map[string]string{"to": "anyone@example.com"}},
	}
	for _, tt := range tests {
		if rec := h.do(t, http.MethodPost, tt.path, "u1", tt.body); rec.Code != http.StatusForbidden {
			t.Fatalf("%s with user token: status = %d, want 403", tt.path, rec.Code)
		}
	}
	if sent != 0 || len(jobs.names) != 0 {
		t.Fatalf("user token reached handlers: sent=%d sweeps=%v", sent, jobs.names)
	}
	if n, _ := h.notify.UnreadCount(context.Background(), "victim"); n != 0 {
		t.Fatalf("victim got %d notifications", n)
	}

	if rec := h.do(t, http.MethodPost, "/api/v1/internal/maintenance/sweep", serviceUser, nil); rec.Code != http.StatusAccepted {
		t.Fatalf("service token: status = %d, want 202", rec.Code)
	}
}

type fakeJobs struct {
	started bool
	err     error
	names   []string
}

func (f *fakeJobs) RunNow(name string) (bool, error) {
	f.names = append(f.names, name)
	return f.started, f.err
}

func TestSweepTrigger(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		jobs *fakeJobs
		want int
	}{
		{name: "started", jobs: &fakeJobs{started: true}, want: http.StatusAccepted},
		{name: "busy", jobs: &fakeJobs{}, want: http.StatusConflict},
		{name: "stopped", jobs: &fakeJobs{err: scheduler.ErrNotRunning}, want: http.StatusServiceUnavailable},
		{name: "unknown", jobs: &fakeJobs{err: scheduler.ErrUnknownJob}, want: http.StatusNotFound},
	}
	for _, tt := range tests {
		jobs := tt.jobs
		h := newHarness(t, func(d *Deps) { d.Jobs = jobs })
		rec := h.do(t, http.MethodPost, "/api/v1/internal/maintenance/sweep", serviceUser, nil)
		if rec.Code != tt.want {
			t.Fatalf("%s: status = %d, want %d", tt.name, rec.Code, tt.want)
		}
		if len(jobs.names) != 1 || jobs.names[0] != "maintenance.sweep" {
			t.Fatalf("%s: RunNow calls = %v", tt.name, jobs.names)
		}
	}
}

type mailFunc func(ctx context.Context, to, subject, body string) error

func (f mailFunc) Send(ctx context.Context, to, subject, body string) error {
	return f(ctx, to, subject, body)
}

func TestMailTest(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	if rec := h.do(t, http.MethodPost, "/api/v1/internal/mail/test", serviceUser, map[string]string{"to": "a@b.c"}); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("no mailer status = %d", rec.Code)
	}

	var gotTo string
	h = newHarness(t, func(d *Deps) {
		d.Mailer = mailFunc(func(_ context.Context, to, _, _ string) error {
			gotTo = to
			return nil
		})
	})
	if rec := h.do(t, http.MethodPost, "/api/v1/internal/mail/test", serviceUser, map[string]string{"to": "ops@example.com"}); rec.Code != http.StatusOK {
		t.Fatalf("send status = %d", rec.Code)
	}
	if gotTo != "ops@example.com" {
		t.Fatalf("to = %q", gotTo)
	}

	h = newHarness(t, func(d *Deps) {
		d.Mailer = mailFunc(func(context.Context, string, string, string) error {
			return &mailer.DeliveryError{Op: "auth", Err: errors.New("535 bad credentials")}
		})
	})
	rec := h.do(t, http.MethodPost, "/api/v1/internal/mail/test", serviceUser, map[string]string{"to": "ops@example.com"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("delivery failure status = %d", rec.Code)
	}
	if msg := decode[map[string]string](t, rec)["error"]; !strings.Contains(msg, "535 bad credentials") {
		t.Fatalf("error = %q", msg)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(d *Deps) {
		d.Health = func() map[string]any { return map[string]any{"scheduler": "running"} }
	})
	h.presence.Register("u1", "c1")

	rec := h.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["connected"] != float64(1) || body["scheduler"] != "running" {
		t.Fatalf("body = %v", body)
	}
}

// readEvent scans SSE lines until an event named want and returns its data.
func readEvent(t *testing.T, sc *bufio.Scanner, want string) string {
	t.Helper()
	name := ""
	for sc.Scan() {
		line := sc.Text()
		if v, ok := strings.CutPrefix(line, "event:"); ok {
			name = strings.TrimSpace(v)
			continue
		}
		if v, ok := strings.CutPrefix(line, "data:"); ok && name == want {
			return strings.TrimSpace(v)
		}
	}
	t.Fatalf("stream ended before %q event: %v", want, sc.Err())
	return ""
}

func TestStreamDeliversDispatchedNotification(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ts := httptest.NewServer(h.srv.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+token(t, "u1"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	sc := bufio.NewScanner(resp.Body)
	readEvent(t, sc, "ready")
	if _, ok := h.presence.Lookup("u1"); !ok {
		t.Fatal("stream should register presence")
	}

	created, err := h.notify.Dispatch(ctx, []model.Recipient{{ID: "u1"}}, "Ping", "hello", nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	var got model.Notification
	if err := json.Unmarshal([]byte(readEvent(t, sc, notify.EventNotification)), &got); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if got.ID != created[0].ID || got.Title != "Ping" || got.IsRead {
		t.Fatalf("event = %+v", got)
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for h.presence.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("presence not cleared after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServeListenerStopsOnCancel(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.srv.ServeListener(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ServeListener: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
