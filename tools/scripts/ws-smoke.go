// Package main provides a CI-friendly WebSocket smoke test for the Courier
// realtime gateway.
//
// It validates:
//   - handshake + subprotocol selection
//   - hello -> hello.ack session establishment
//   - presence online fanout to another client
//   - HTTP send -> message.new fanout
//   - delivered -> message.status fanout
//   - typing fanout excludes the emitter
//
// Wire shapes are declared locally: the smoke test talks to the server the
// way an external client does, over JSON only.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	subprotocol  = "courier.v1"
	maxReadBytes = 1 << 20 // 1MiB
)

type envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type helloPayload struct {
	WaID string `json:"wa_id"`
}

type helloAckPayload struct {
	SessionID string `json:"session_id"`
	WaID      string `json:"wa_id"`
}

type presencePayload struct {
	WaID   string `json:"wa_id"`
	Status string `json:"status"`
}

type typingPayload struct {
	WaID string `json:"wa_id"`
}

type deliveredPayload struct {
	MessageID string `json:"message_id"`
}

// message.new / message.status carry the stored message record itself.
type messagePayload struct {
	ID     string `json:"id"`
	WaID   string `json:"wa_id"`
	From   string `json:"from"`
	To     string `json:"to"`
	Body   string `json:"body"`
	Status string `json:"status"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type smokeClient struct {
	name      string
	identity  string
	conn      *websocket.Conn
	sessionID string

	inbox chan envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		apiURL  = flag.String("api", "http://127.0.0.1:8080", "HTTP API base URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		waID    = flag.String("wa", "smoke-thread-1", "Thread ID to exercise")
		text    = flag.String("text", "hello courier", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	a := mustConnect(root, "A", "smoke-alice", *wsURL, *origin, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", "smoke-bob", *wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.sessionID, b.sessionID, *origin)
	}

	// A observes B coming online.
	mustAssertPresence(root, a, b.identity, "online", *timeout)

	// Send over HTTP from A into the thread; B must receive message.new.
	msgID := mustSendHTTP(*apiURL, a.identity, *waID, *text, *timeout)
	mustAssertMessageNew(root, b, *waID, msgID, *text, *timeout)

	// B acknowledges delivery; A must see the status advance.
	mustDelivered(root, b, msgID, *timeout)
	mustAssertMessageStatus(root, a, msgID, "delivered", *timeout)

	// Typing from B targets thread peers, never B itself.
	mustTyping(root, b, *waID, *timeout)
	mustAssertNoType(root, b, "typing", 1200*time.Millisecond)

	fmt.Printf("OK: A=%s B=%s wa_id=%s message_id=%s\n", a.sessionID, b.sessionID, *waID, msgID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, identity, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, subprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:     name,
		identity: identity,
		conn:     conn,
		inbox:    make(chan envelope, 512),
		errCh:    make(chan error, 1),
	}
	c.startReadLoop()

	hello := envelope{
		V:       1,
		Type:    "hello",
		ID:      fmt.Sprintf("%s-hello", name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(helloPayload{WaID: identity}),
	}
	mustWriteWithTimeout(parent, conn, hello, stepTimeout)

	ack := c.mustReadUntilType(parent, "hello.ack", stepTimeout, map[string]struct{}{"presence": {}})

	var p helloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello.ack payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.SessionID) == "" {
		fatalf("hello.ack missing session_id (%s)", name)
	}
	if p.WaID != identity {
		fatalf("hello.ack wa_id mismatch (%s): got=%q want=%q", name, p.WaID, identity)
	}
	c.sessionID = p.SessionID

	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustSendHTTP(apiBase, from, waID, text string, stepTimeout time.Duration) string {
	body := mustJSON(map[string]string{
		"wa_id": waID,
		"from":  from,
		"to":    waID,
		"text":  text,
	})

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(apiBase, "/")+"/api/messages/send", bytes.NewReader(body))
	if err != nil {
		fatalf("build send request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Wa-ID", from)

	client := &http.Client{Timeout: stepTimeout}
	resp, err := client.Do(req)
	if err != nil {
		fatalf("send request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		fatalf("send: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("decode send response: %v", err)
	}
	if strings.TrimSpace(out.ID) == "" {
		fatalf("send response missing id")
	}
	return out.ID
}

func mustDelivered(parent context.Context, c *smokeClient, msgID string, stepTimeout time.Duration) {
	env := envelope{
		V:       1,
		Type:    "delivered",
		ID:      fmt.Sprintf("%s-delivered", c.name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(deliveredPayload{MessageID: msgID}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)
}

func mustTyping(parent context.Context, c *smokeClient, waID string, stepTimeout time.Duration) {
	env := envelope{
		V:       1,
		Type:    "typing",
		ID:      fmt.Sprintf("%s-typing", c.name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(typingPayload{WaID: waID}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)
}

func mustAssertPresence(parent context.Context, c *smokeClient, identity, status string, stepTimeout time.Duration) {
	skip := map[string]struct{}{"message.new": {}, "message.status": {}}
	for {
		env := c.mustReadUntilType(parent, "presence", stepTimeout, skip)

		var p presencePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			fatalf("unmarshal presence payload (%s): %v", c.name, err)
		}
		if p.WaID == identity {
			if p.Status != status {
				fatalf("presence status mismatch (%s): got=%q want=%q", c.name, p.Status, status)
			}
			return
		}
	}
}

func mustAssertMessageNew(parent context.Context, c *smokeClient, waID, msgID, text string, stepTimeout time.Duration) {
	skip := map[string]struct{}{"presence": {}}
	env := c.mustReadUntilType(parent, "message.new", stepTimeout, skip)

	var p messagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal message.new payload (%s): %v", c.name, err)
	}
	if p.WaID != waID {
		fatalf("message.new wa_id mismatch (%s): got=%q want=%q", c.name, p.WaID, waID)
	}
	if p.ID != msgID {
		fatalf("message.new id mismatch (%s): got=%q want=%q", c.name, p.ID, msgID)
	}
	if p.Body != text {
		fatalf("message.new body mismatch (%s): got=%q want=%q", c.name, p.Body, text)
	}
}

func mustAssertMessageStatus(parent context.Context, c *smokeClient, msgID, status string, stepTimeout time.Duration) {
	skip := map[string]struct{}{"presence": {}, "message.new": {}, "typing": {}, "stop_typing": {}}
	env := c.mustReadUntilType(parent, "message.status", stepTimeout, skip)

	var p messagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal message.status payload (%s): %v", c.name, err)
	}
	if p.ID != msgID {
		fatalf("message.status id mismatch (%s): got=%q want=%q", c.name, p.ID, msgID)
	}
	if p.Status != status {
		fatalf("message.status status mismatch (%s): got=%q want=%q", c.name, p.Status, status)
	}
}

func mustAssertNoType(parent context.Context, c *smokeClient, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if env.Type == "error" {
				var ep errorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if env.Type == forbiddenType {
				fatalf("unexpected %s received (%s)", forbiddenType, c.name)
			}
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == "error" {
				var ep errorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
