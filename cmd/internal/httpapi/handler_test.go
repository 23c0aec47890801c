package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"courier/cmd/internal/auth"
	"courier/cmd/internal/chat"
	"courier/cmd/internal/realtime"
)

type denyGate struct{}

func (denyGate) Authenticate(*http.Request) (string, error) {
	return "", auth.ErrUnauthorized
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(t *testing.T, gate auth.Gate) (*mux.Router, chat.Store, *realtime.Presence) {
	t.Helper()

	store := chat.NewMemoryStore()
	presence := realtime.NewPresence(testLogger())
	metrics := realtime.NewMetrics(prometheus.NewRegistry())
	engine := realtime.NewEngine(testLogger(), presence, store, metrics, 64)

	blobs, err := NewDiskStorage(t.TempDir(), "/uploads")
	if err != nil {
		t.Fatalf("NewDiskStorage: %v", err)
	}

	if gate == nil {
		gate = auth.InsecureGate{}
	}

	r := mux.NewRouter()
	NewHandler(testLogger(), store, engine, presence, gate, blobs).Register(r)
	return r, store, presence
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestSendMessage_CreatedAndStored(t *testing.T) {
	r, store, _ := newTestRouter(t, nil)

	rec := doJSON(t, r, http.MethodPost, "/api/messages/send", map[string]string{
		"wa_id": "1234", "from": "1234", "to": "support", "text": "hi",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}

	var msg chat.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.ID == "" || msg.Seq != 1 || msg.Status != chat.StatusSent || !msg.Unread {
		t.Fatalf("unexpected message: %+v", msg)
	}

	msgs, err := store.ListByThread(httptest.NewRequest("GET", "/", nil).Context(), "1234")
	if err != nil {
		t.Fatalf("ListByThread: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Body != "hi" {
		t.Fatalf("stored thread: %+v", msgs)
	}
}

func TestSendMessage_MalformedThreadID(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)

	rec := doJSON(t, r, http.MethodPost, "/api/messages/send", map[string]string{
		"wa_id": "bad id!", "from": "a", "to": "b", "text": "x",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}

	rec = doJSON(t, r, http.MethodPost, "/api/messages/send", map[string]string{
		"from": "a", "to": "b", "text": "x",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing wa_id: status %d, want 400", rec.Code)
	}
}

func TestSendMessage_CallerIdentityWinsOverBody(t *testing.T) {
	r, store, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/messages/send",
		strings.NewReader(`{"wa_id":"t","from":"spoofed","to":"b","text":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Wa-ID", "verified-caller")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d", rec.Code)
	}
	msgs, _ := store.ListByThread(req.Context(), "t")
	if msgs[0].From != "verified-caller" {
		t.Fatalf("sender %q, want gate identity", msgs[0].From)
	}
}

func TestSendGroupMessage(t *testing.T) {
	r, store, _ := newTestRouter(t, nil)

	rec := doJSON(t, r, http.MethodPost, "/api/messages/sendGroup", map[string]string{
		"groupId": "team-7", "from": "alice", "text": "standup",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}

	msgs, _ := store.ListByThread(httptest.NewRequest("GET", "/", nil).Context(), "team-7")
	if len(msgs) != 1 || !msgs[0].IsGroup || msgs[0].To != "team-7" {
		t.Fatalf("group message: %+v", msgs)
	}
}

func TestSendMediaMessage(t *testing.T) {
	r, store, _ := newTestRouter(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("wa_id", "t")
	_ = mw.WriteField("from", "a")
	_ = mw.WriteField("to", "b")
	_ = mw.WriteField("text", "see attached")
	fw, err := mw.CreateFormFile("file", "photo.jpg")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	_, _ = fw.Write([]byte("not-really-a-jpeg"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/messages/sendMedia", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}

	msgs, _ := store.ListByThread(req.Context(), "t")
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	m := msgs[0]
	if m.Kind != chat.KindMedia {
		t.Fatalf("kind %q", m.Kind)
	}
	if !strings.HasPrefix(m.MediaURL, "/uploads/") || !strings.HasSuffix(m.MediaURL, ".jpg") {
		t.Fatalf("media url %q", m.MediaURL)
	}
}

func TestMarkRead_CountThenZero(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)

	doJSON(t, r, http.MethodPost, "/api/messages/send", map[string]string{
		"wa_id": "1234", "from": "1234", "to": "s", "text": "hi",
	})

	rec := doJSON(t, r, http.MethodPost, "/api/messages/markRead/1234", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp markReadResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Count != 1 {
		t.Fatalf("first markRead count %d, want 1", resp.Count)
	}

	rec = doJSON(t, r, http.MethodPost, "/api/messages/markRead/1234", nil)
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Count != 0 {
		t.Fatalf("second markRead count %d, want 0", resp.Count)
	}
}

func TestMarkRead_MalformedID(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)

	rec := doJSON(t, r, http.MethodPost, "/api/messages/markRead/bad%20id", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestListThread_UnknownReadsEmpty(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)

	rec := doJSON(t, r, http.MethodGet, "/api/messages/nobody", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var msgs []chat.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &msgs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("unknown thread must be empty, got %d", len(msgs))
	}
}

func TestUserInfo(t *testing.T) {
	r, _, presence := newTestRouter(t, nil)

	rec := doJSON(t, r, http.MethodGet, "/api/messages/user/1234", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var u userInfoResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &u)
	if u.Name != "Unknown" || u.Number != "1234" {
		t.Fatalf("user info %+v", u)
	}
	if u.Online || u.LastSeen != "" {
		t.Fatalf("never-seen identity must report offline with no last_seen: %+v", u)
	}

	presence.Connect("1234", realtime.NewClient("s1", 1))

	rec = doJSON(t, r, http.MethodGet, "/api/messages/user/1234", nil)
	u = userInfoResponse{}
	_ = json.Unmarshal(rec.Body.Bytes(), &u)
	if !u.Online || u.LastSeen == "" {
		t.Fatalf("connected identity must report online with a last_seen: %+v", u)
	}
}

func TestListConversations_OrderedByActivity(t *testing.T) {
	r, store, _ := newTestRouter(t, nil)

	ctx := httptest.NewRequest("GET", "/", nil).Context()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if _, err := store.Append(ctx, chat.AppendInput{WaID: "t1", From: "a", To: "b", Body: "old", Now: base}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := store.Append(ctx, chat.AppendInput{WaID: "t2", From: "c", To: "d", Body: "new", Now: base.Add(time.Hour)}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	rec := doJSON(t, r, http.MethodGet, "/api/conversations", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var sums []chat.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &sums); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sums) != 2 || sums[0].WaID != "t2" {
		t.Fatalf("summaries %+v", sums)
	}
}

func TestAuthGate_RejectsBeforeCoreLogic(t *testing.T) {
	r, store, _ := newTestRouter(t, denyGate{})

	rec := doJSON(t, r, http.MethodPost, "/api/messages/send", map[string]string{
		"wa_id": "t", "from": "a", "to": "b", "text": "x",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", rec.Code)
	}

	msgs, _ := store.ListByThread(httptest.NewRequest("GET", "/", nil).Context(), "t")
	if len(msgs) != 0 {
		t.Fatalf("rejected request must not persist, got %d", len(msgs))
	}

	rec = doJSON(t, r, http.MethodGet, "/api/conversations", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("conversations status %d, want 401", rec.Code)
	}
}

func TestWriteError_Taxonomy(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{chat.ErrValidation, http.StatusBadRequest},
		{chat.ErrNotFound, http.StatusNotFound},
		{auth.ErrUnauthorized, http.StatusUnauthorized},
		{chat.ErrStorageUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, testLogger(), c.err)
		if rec.Code != c.code {
			t.Fatalf("%v: status %d, want %d", c.err, rec.Code, c.code)
		}
	}
}
