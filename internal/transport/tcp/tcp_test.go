package tcp

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/objtalk/objtalkd/internal/broker"
	"github.com/objtalk/objtalkd/internal/wire"
)

func newTestServer(t *testing.T) net.Conn {
	t.Helper()
	b, err := broker.New(nil, nil, nil)
	if err != nil {
		t.Fatalf("broker.New: %v", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := New(listener.Addr().String(), b, zerolog.Nop())
	srv.listener = listener
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go srv.serveConn(conn)
		}
	}()
	t.Cleanup(func() { listener.Close() })

	conn, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendJSON(t *testing.T, conn net.Conn, v interface{}) {
	t.Helper()
	encoded, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := wire.WriteTCPFrame(conn, wire.TCPFrameJSON, encoded); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func readJSON(t *testing.T, reader *bufio.Reader) map[string]interface{} {
	t.Helper()
	kind, payload, err := wire.ReadTCPFrame(reader)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if kind != wire.TCPFrameJSON {
		t.Fatalf("expected JSON frame, got kind %d", kind)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(payload, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestSetAndGetRoundTrip(t *testing.T) {
	conn := newTestServer(t)
	conn.SetDeadline(time.Now().Add(3 * time.Second))
	reader := bufio.NewReader(conn)

	sendJSON(t, conn, map[string]interface{}{"id": 1, "type": "set", "name": "devices/lamp", "value": map[string]interface{}{"on": true}})
	resp := readJSON(t, reader)
	if resp["error"] != nil {
		t.Fatalf("unexpected error: %v", resp)
	}

	sendJSON(t, conn, map[string]interface{}{"id": 2, "type": "get", "pattern": "devices/+"})
	resp = readJSON(t, reader)
	result, ok := resp["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected result shape: %v", resp)
	}
	objects, ok := result["objects"].([]interface{})
	if !ok || len(objects) != 1 {
		t.Fatalf("expected one object, got %v", result)
	}
}

func TestInvalidMessageKeepsConnectionOpen(t *testing.T) {
	conn := newTestServer(t)
	conn.SetDeadline(time.Now().Add(3 * time.Second))
	reader := bufio.NewReader(conn)

	if err := wire.WriteTCPFrame(conn, wire.TCPFrameJSON, []byte("not json")); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	resp := readJSON(t, reader)
	if resp["error"] != "invalid message" {
		t.Fatalf("expected invalid message error, got %v", resp)
	}

	sendJSON(t, conn, map[string]interface{}{"id": 3, "type": "set", "name": "devices/fan", "value": true})
	resp = readJSON(t, reader)
	if resp["error"] != nil {
		t.Fatalf("connection should still work after malformed frame: %v", resp)
	}
}

func TestStreamFrameRelayedToBroker(t *testing.T) {
	conn := newTestServer(t)
	conn.SetDeadline(time.Now().Add(3 * time.Second))
	reader := bufio.NewReader(conn)

	sendJSON(t, conn, map[string]interface{}{"id": 1, "type": "createStream"})
	resp := readJSON(t, reader)
	result, ok := resp["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected createStream result: %v", resp)
	}
	index, ok := result["index"].(float64)
	if !ok {
		t.Fatalf("expected numeric index in %v", result)
	}
	token, ok := result["token"].(string)
	if !ok {
		t.Fatalf("expected string token in %v", result)
	}

	// The same connection opens its own stream, so it is also the peer.
	// The openStream response and the streamOpen event may arrive in
	// either order.
	sendJSON(t, conn, map[string]interface{}{"id": 2, "type": "openStream", "token": token})
	var peerIndex float64
	for i := 0; i < 2; i++ {
		msg := readJSON(t, reader)
		if opened, ok := msg["result"].(map[string]interface{}); ok {
			if peerIndex, ok = opened["index"].(float64); !ok {
				t.Fatalf("unexpected openStream result: %v", msg)
			}
		}
	}

	frame := make([]byte, 4+len("hello"))
	i := uint32(index)
	frame[0] = byte(i)
	frame[1] = byte(i >> 8)
	frame[2] = byte(i >> 16)
	frame[3] = byte(i >> 24)
	copy(frame[4:], "hello")

	if err := wire.WriteTCPFrame(conn, wire.TCPFrameStream, frame); err != nil {
		t.Fatalf("write stream frame: %v", err)
	}

	kind, payload, err := wire.ReadTCPFrame(reader)
	if err != nil {
		t.Fatalf("read relayed frame: %v", err)
	}
	if kind != wire.TCPFrameStream {
		t.Fatalf("expected stream frame, got kind %d", kind)
	}
	gotIndex, data, err := wire.DecodeStreamFrame(payload)
	if err != nil {
		t.Fatalf("decode relayed frame: %v", err)
	}
	if gotIndex != uint32(peerIndex) || string(data) != "hello" {
		t.Fatalf("unexpected relayed frame: index=%d data=%q", gotIndex, data)
	}
}
