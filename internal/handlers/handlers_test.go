package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/pelusa-v/pelusa-chat.git/internal/auth"
	"github.com/pelusa-v/pelusa-chat.git/internal/chat"
	"github.com/pelusa-v/pelusa-chat.git/internal/models"
	"github.com/pelusa-v/pelusa-chat.git/internal/store"
)

type testEnv struct {
	app *fiber.App
	hub *chat.Manager
	reg *prometheus.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	log := zaptest.NewLogger(t)
	reg := prometheus.NewRegistry()
	metrics := chat.NewMetrics(reg)
	authn := auth.NewAuthenticator(auth.NewTokens([]byte("test-secret"), time.Hour), st)
	hub := chat.NewManager(chat.NewRelay(st, st, log), st, chat.Options{Logger: log, Metrics: metrics})
	t.Cleanup(hub.Close)

	h := New(st, authn, hub, metrics, log)
	app := fiber.New(fiber.Config{
		ErrorHandler:          h.ErrorHandler,
		DisableStartupMessage: true,
	})
	h.Mount(app)
	return &testEnv{app: app, hub: hub, reg: reg}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, data
}

func (e *testEnv) signup(t *testing.T, name, email string) sessionResponse {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/api/auth/signup", signupRequest{
		Name: name, Email: email, Password: "correct horse",
	}, "")
	if status != fiber.StatusCreated {
		t.Fatalf("signup %s: status %d body %s", email, status, body)
	}
	var sess sessionResponse
	mustDecode(t, body, &sess)
	return sess
}

func mustDecode(t *testing.T, data []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
}

func TestSignupLoginMe(t *testing.T) {
	env := newTestEnv(t)

	sess := env.signup(t, "Alice", "alice@example.com")
	if sess.Token == "" || sess.User.ID == "" || sess.User.Email != "alice@example.com" {
		t.Fatalf("unexpected session %+v", sess)
	}

	status, _ := env.do(t, http.MethodPost, "/api/auth/signup", signupRequest{
		Name: "Other", Email: "ALICE@example.com", Password: "x",
	}, "")
	if status != fiber.StatusConflict {
		t.Fatalf("expected 409 for duplicate email, got %d", status)
	}
	status, _ = env.do(t, http.MethodPost, "/api/auth/signup", signupRequest{Email: "bob@example.com"}, "")
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for missing fields, got %d", status)
	}

	status, _ = env.do(t, http.MethodPost, "/api/auth/login", loginRequest{
		Email: "alice@example.com", Password: "wrong",
	}, "")
	if status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", status)
	}

	raw, _ := json.Marshal(loginRequest{Email: "alice@example.com", Password: "correct horse"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(raw))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := env.app.Test(req, -1)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 for login, got %d", resp.StatusCode)
	}
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == cookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value == "" || !cookie.HttpOnly {
		t.Fatalf("expected http-only %s cookie, got %+v", cookieName, resp.Cookies())
	}

	// the cookie alone authenticates
	req = httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: cookieName, Value: cookie.Value})
	resp, err = env.app.Test(req, -1)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 for me, got %d: %s", resp.StatusCode, body)
	}
	var me struct {
		User models.User `json:"user"`
	}
	mustDecode(t, body, &me)
	if me.User.ID != sess.User.ID || me.User.Status != models.StatusOffline {
		t.Fatalf("unexpected me %+v", me.User)
	}
}

func TestRequireAuthRejects(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/api/online", nil, "")
	if status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", status)
	}
	var msg struct {
		Message string `json:"message"`
	}
	mustDecode(t, body, &msg)
	if msg.Message == "" {
		t.Fatal("expected an error message")
	}

	if status, _ := env.do(t, http.MethodGet, "/api/online", nil, "not-a-token"); status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", status)
	}
	if status, _ := env.do(t, http.MethodGet, "/ws?token=not-a-token", nil, ""); status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 before upgrade, got %d", status)
	}

	n, err := testutil.GatherAndCount(env.reg, "chat_auth_failures_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected missing and invalid failure series, got %d", n)
	}
}

func TestSocketRequiresUpgrade(t *testing.T) {
	env := newTestEnv(t)
	sess := env.signup(t, "Alice", "alice@example.com")
	if status, _ := env.do(t, http.MethodGet, "/ws", nil, sess.Token); status != fiber.StatusUpgradeRequired {
		t.Fatalf("expected 426 for plain request, got %d", status)
	}
}

func TestContactsAndMessages(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "Alice", "alice@example.com")
	bob := env.signup(t, "Bob", "bob@example.com")

	status, body := env.do(t, http.MethodPost, "/api/contacts", addContactRequest{Email: "bob@example.com"}, alice.Token)
	if status != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", status, body)
	}
	var contact models.Contact
	mustDecode(t, body, &contact)
	if contact.ContactID != bob.User.ID || contact.Name != "Bob" || contact.Status != models.StatusOffline {
		t.Fatalf("unexpected contact %+v", contact)
	}

	cases := []struct {
		email string
		want  int
	}{
		{"bob@example.com", fiber.StatusConflict},
		{"nobody@example.com", fiber.StatusNotFound},
		{"alice@example.com", fiber.StatusBadRequest},
		{"", fiber.StatusBadRequest},
	}
	for _, tc := range cases {
		if status, _ := env.do(t, http.MethodPost, "/api/contacts", addContactRequest{Email: tc.email}, alice.Token); status != tc.want {
			t.Fatalf("add %q: expected %d, got %d", tc.email, tc.want, status)
		}
	}

	status, body = env.do(t, http.MethodGet, "/api/contacts", nil, alice.Token)
	if status != fiber.StatusOK {
		t.Fatalf("list contacts: %d", status)
	}
	var contacts []models.Contact
	mustDecode(t, body, &contacts)
	if len(contacts) != 1 || contacts[0].LastMessage != nil {
		t.Fatalf("unexpected contacts %+v", contacts)
	}

	if status, _ := env.do(t, http.MethodGet, "/api/messages", nil, alice.Token); status != fiber.StatusBadRequest {
		t.Fatalf("expected 400 without contactId, got %d", status)
	}
	status, body = env.do(t, http.MethodGet, "/api/messages?contactId="+bob.User.ID, nil, alice.Token)
	if status != fiber.StatusOK || strings.TrimSpace(string(body)) != "[]" {
		t.Fatalf("expected empty conversation, got %d %s", status, body)
	}

	status, body = env.do(t, http.MethodGet, "/api/presence/nobody", nil, alice.Token)
	var p models.Presence
	mustDecode(t, body, &p)
	if status != fiber.StatusOK || p.Status != models.StatusOffline || p.UserID != "nobody" {
		t.Fatalf("expected offline default, got %d %+v", status, p)
	}
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn, typ string) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read %s: %v", typ, err)
		}
		if f.Type == typ {
			return f
		}
	}
}

func TestSocketEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "Alice", "alice@example.com")
	bob := env.signup(t, "Bob", "bob@example.com")
	if status, _ := env.do(t, http.MethodPost, "/api/contacts", addContactRequest{Email: "bob@example.com"}, alice.Token); status != fiber.StatusCreated {
		t.Fatalf("add contact: %d", status)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go env.app.Listener(ln)
	t.Cleanup(func() { env.app.ShutdownWithTimeout(2 * time.Second) })
	base := "ws://" + ln.Addr().String() + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(base, nil)
	if err == nil {
		t.Fatal("expected handshake without token to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake, got %+v", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(base+"?token="+alice.Token, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var online chat.StatusChangeEvent
	if err := json.Unmarshal(readFrame(t, conn, "user_status_change").Data, &online); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if online.UserID != alice.User.ID || online.Status != models.StatusOnline {
		t.Fatalf("unexpected status event %+v", online)
	}

	_, body := env.do(t, http.MethodGet, "/api/presence/"+alice.User.ID, nil, bob.Token)
	var p models.Presence
	mustDecode(t, body, &p)
	if p.Status != models.StatusOnline || p.ActiveConnections != 1 {
		t.Fatalf("expected alice online, got %+v", p)
	}

	if err := conn.WriteJSON(map[string]any{
		"type": "new_message",
		"data": map[string]string{"receiverId": bob.User.ID, "content": "hi"},
	}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var msg models.Message
	if err := json.Unmarshal(readFrame(t, conn, "new_message").Data, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.SenderID != alice.User.ID || msg.ReceiverID != bob.User.ID || msg.Content != "hi" {
		t.Fatalf("unexpected message %+v", msg)
	}

	_, body = env.do(t, http.MethodGet, "/api/messages?contactId="+alice.User.ID, nil, bob.Token)
	var history []models.Message
	mustDecode(t, body, &history)
	if len(history) != 1 || history[0].ID != msg.ID {
		t.Fatalf("expected bob to see the stored message, got %+v", history)
	}

	_, body = env.do(t, http.MethodGet, "/api/contacts", nil, alice.Token)
	var contacts []models.Contact
	mustDecode(t, body, &contacts)
	if len(contacts) != 1 || contacts[0].LastMessage == nil || contacts[0].LastMessage.Content != "hi" {
		t.Fatalf("expected lastMessage summary, got %+v", contacts)
	}

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Presence(alice.User.ID).Status != models.StatusOffline {
		if time.Now().After(deadline) {
			t.Fatal("alice never went offline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
