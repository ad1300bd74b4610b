package http

import (
	"bufio"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/objtalk/objtalkd/internal/broker"
)

func newTestBrokerServer(t *testing.T) *Server {
	t.Helper()
	b, err := broker.New(nil, nil, nil)
	if err != nil {
		t.Fatalf("broker.New: %v", err)
	}
	return New("127.0.0.1:0", b, zerolog.Nop(), "", AdminConfig{})
}

func TestObjectSetGetRemove(t *testing.T) {
	s := newTestBrokerServer(t)
	ts := httptest.NewServer(s.mux)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/objects/devices%2Flamp", "application/json", strings.NewReader(`{"on":true}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/objects/devices%2Flamp")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var obj map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if obj["name"] != "devices/lamp" {
		t.Fatalf("unexpected object: %v", obj)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/objects/devices%2Flamp", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on delete, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/objects/devices%2Flamp")
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestQuerySnapshot(t *testing.T) {
	s := newTestBrokerServer(t)
	ts := httptest.NewServer(s.mux)
	defer ts.Close()

	http.Post(ts.URL+"/objects/sensors%2Ftemp", "application/json", strings.NewReader(`42`))

	resp, err := http.Get(ts.URL + "/query?pattern=sensors%2F%2B")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var objects []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&objects); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(objects) != 1 {
		t.Fatalf("expected one object, got %d", len(objects))
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestBrokerServer(t)
	ts := httptest.NewServer(s.mux)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, field := range []string{"status", "objects", "clients", "queries", "streams"} {
		if _, ok := body[field]; !ok {
			t.Errorf("expected %q in health response, got %v", field, body)
		}
	}
}

func TestWebSocketUpgradeDetection(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	if !isUpgradeRequest(req) {
		t.Fatal("expected upgrade request to be detected")
	}

	plain := httptest.NewRequest(http.MethodGet, "/", nil)
	if isUpgradeRequest(plain) {
		t.Fatal("plain GET should not be detected as an upgrade request")
	}
}

// TestWebSocketRoundTrip exercises the WebSocket upgrade handshake (the
// request and its 101 response) over a real TCP connection, since gobwas/ws.UpgradeHTTP needs a
// hijackable ResponseWriter that httptest's in-process transport can't
// provide.
func TestWebSocketRoundTrip(t *testing.T) {
	s := newTestBrokerServer(t)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	httpServer := &http.Server{Handler: s.mux}
	go httpServer.Serve(listener)
	defer httpServer.Close()

	conn, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(3 * time.Second))

	req := "GET / HTTP/1.1\r\nHost: localhost\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\nSec-WebSocket-Version: 13\r\n\r\n"
	if _, err := conn.Write([]byte(req)); err != nil {
		t.Fatalf("write upgrade request: %v", err)
	}

	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	if !strings.Contains(statusLine, "101") {
		t.Fatalf("expected 101 switching protocols, got %q", statusLine)
	}
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read headers: %v", err)
		}
		if line == "\r\n" {
			break
		}
	}
}
