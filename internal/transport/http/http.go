// Package http serves objtalkd's REST surface, a WebSocket upgrade
// speaking the same request/response/event envelope as the TCP
// transport, and an SSE variant of /query for clients that only want a
// live feed and no write path.
package http

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path"
	"strings"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/objtalk/objtalkd/internal/broker"
	"github.com/objtalk/objtalkd/internal/metrics"
	"github.com/objtalk/objtalkd/internal/ratelimit"
	"github.com/objtalk/objtalkd/internal/sysmonitor"
	"github.com/objtalk/objtalkd/internal/wire"
)

// isUpgradeRequest reports whether r asks to upgrade to WebSocket, per
// RFC 6455 §4.1 — gobwas/ws (unlike hyper-tungstenite) leaves this check
// to the caller.
func isUpgradeRequest(r *http.Request) bool {
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return false
	}
	for _, token := range strings.Split(r.Header.Get("Connection"), ",") {
		if strings.EqualFold(strings.TrimSpace(token), "upgrade") {
			return true
		}
	}
	return false
}

// AdminConfig mirrors config.AdminConfig without importing internal/config,
// keeping this package usable standalone.
type AdminConfig struct {
	Enabled        bool
	AssetOverrides string
}

// Server is one HTTP listener bound to a broker. It serves the REST
// object endpoints, a "/" WebSocket upgrade, "/query" (JSON or SSE
// depending on Accept), "/metrics", "/health", and, if Admin.Enabled,
// the admin UI under "/" and "/_assets/".
type Server struct {
	addr        string
	broker      *broker.Broker
	log         zerolog.Logger
	allowOrigin string
	admin       AdminConfig
	monitor     *sysmonitor.Monitor
	mux         *http.ServeMux
	httpServer  *http.Server
}

// New constructs a Server. Serve starts it.
func New(addr string, b *broker.Broker, log zerolog.Logger, allowOrigin string, admin AdminConfig) *Server {
	s := &Server{
		addr:        addr,
		broker:      b,
		log:         log.With().Str("transport", "http").Str("addr", addr).Logger(),
		allowOrigin: allowOrigin,
		admin:       admin,
	}
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/metrics", metricsHandler)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/query", s.handleQuery)
	s.mux.HandleFunc("/objects/", s.handleObject)
	s.mux.HandleFunc("/events/", s.handleEmit)
	if admin.Enabled {
		s.mux.HandleFunc("/_assets/", s.handleAdminAssets)
		s.mux.HandleFunc("/", s.handleRoot)
	} else {
		s.mux.HandleFunc("/", s.handleRoot)
	}
	return s
}

// SetMonitor attaches the system monitor whose last sample /health
// reports. Optional: if never called, /health omits the cpu/memory
// fields.
func (s *Server) SetMonitor(m *sysmonitor.Monitor) {
	s.monitor = m
}

func metricsHandler(w http.ResponseWriter, r *http.Request) {
	metrics.Handler().ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.broker.Stats()
	body := map[string]interface{}{
		"status":  "ok",
		"objects": stats.Objects,
		"clients": stats.Clients,
		"queries": stats.Queries,
		"streams": stats.Streams,
	}
	if s.monitor != nil {
		if sample, ok := s.monitor.LastSample(); ok {
			body["cpuPercent"] = sample.CPUPercent
			body["memoryBytes"] = sample.MemoryBytes
		}
	}
	jsonResponse(w, http.StatusOK, body)
}

// Serve runs the HTTP listener until Close is called.
func (s *Server) Serve() error {
	s.httpServer = &http.Server{Addr: s.addr, Handler: s.withCORS(s.mux)}
	s.log.Info().Msg("http transport listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close gracefully shuts down the listener.
func (s *Server) Close() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	if s.allowOrigin == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.allowOrigin)
		next.ServeHTTP(w, r)
	})
}

func jsonResponse(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	http.Error(w, message, status)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		errorResponse(w, http.StatusNotFound, "not found")
		return
	}
	if isUpgradeRequest(r) {
		s.handleWebSocket(w, r)
		return
	}
	if s.admin.Enabled {
		s.serveAdminAsset(w, r, "index.html")
		return
	}
	errorResponse(w, http.StatusBadRequest, "bad request")
}

// handleObject routes GET/POST/PATCH/DELETE under /objects/<name>.
func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/objects/")
	if name == "" {
		errorResponse(w, http.StatusBadRequest, "bad request")
		return
	}

	client := s.broker.Connect()
	defer s.broker.Disconnect(client.ID)

	switch r.Method {
	case http.MethodGet:
		s.handleGet(w, name, client.ID)
	case http.MethodPost:
		s.handleSet(w, r, name, client.ID)
	case http.MethodPatch:
		s.handlePatch(w, r, name, client.ID)
	case http.MethodDelete:
		s.handleRemove(w, name, client.ID)
	default:
		errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleGet(w http.ResponseWriter, name string, clientID uuid.UUID) {
	pattern, err := broker.CompilePattern(name)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid pattern")
		return
	}
	objects := s.broker.Get(pattern, clientID)
	if len(objects) != 1 {
		errorResponse(w, http.StatusNotFound, "not found")
		return
	}
	jsonResponse(w, http.StatusOK, objects[0])
}

func (s *Server) handleSet(w http.ResponseWriter, r *http.Request, name string, clientID uuid.UUID) {
	var value interface{}
	if err := decodeBody(r, &value); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.broker.Set(name, value, clientID); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request, name string, clientID uuid.UUID) {
	var value interface{}
	if err := decodeBody(r, &value); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.broker.Patch(name, value, clientID); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleRemove(w http.ResponseWriter, name string, clientID uuid.UUID) {
	existed, err := s.broker.Remove(name, clientID)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if !existed {
		errorResponse(w, http.StatusNotFound, "not found")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleEmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/events/")
	if name == "" {
		errorResponse(w, http.StatusBadRequest, "bad request")
		return
	}

	var body struct {
		Event string      `json:"event"`
		Data  interface{} `json:"data"`
	}
	if err := decodeBody(r, &body); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid json")
		return
	}

	client := s.broker.Connect()
	defer s.broker.Disconnect(client.ID)

	if err := s.broker.Emit(name, body.Event, body.Data, client.ID); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{"success": true})
}

func decodeBody(r *http.Request, v interface{}) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// handleQuery serves GET /query?pattern=... — a JSON snapshot by
// default, or a live text/event-stream feed when the client asks for
// Accept: text/event-stream.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	patternStr := r.URL.Query().Get("pattern")
	if patternStr == "" {
		errorResponse(w, http.StatusBadRequest, "pattern missing")
		return
	}
	pattern, err := broker.CompilePattern(patternStr)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid pattern")
		return
	}

	if r.Header.Get("Accept") == "text/event-stream" {
		s.handleQueryStream(w, r, pattern)
		return
	}

	client := s.broker.Connect()
	defer s.broker.Disconnect(client.ID)
	objects := s.broker.Get(pattern, client.ID)
	jsonResponse(w, http.StatusOK, objects)
}

func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request, pattern *broker.Pattern) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		errorResponse(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	client := s.broker.Connect()
	defer s.broker.Disconnect(client.ID)

	queryID, objects, err := s.broker.Query(pattern, false, client.ID)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, "initial", map[string]interface{}{"objects": objects})
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-client.Inbox():
			if !ok {
				return
			}
			name, data := sseEventFor(queryID, msg)
			if name == "" {
				continue
			}
			writeSSE(w, name, data)
			flusher.Flush()
		}
	}
}

func sseEventFor(queryID uuid.UUID, msg broker.Message) (name string, data interface{}) {
	switch m := msg.(type) {
	case broker.QueryAdd:
		if m.QueryID != queryID {
			return "", nil
		}
		return "add", map[string]interface{}{"object": m.Object}
	case broker.QueryChange:
		if m.QueryID != queryID {
			return "", nil
		}
		return "change", map[string]interface{}{"object": m.Object}
	case broker.QueryRemove:
		if m.QueryID != queryID {
			return "", nil
		}
		return "remove", map[string]interface{}{"object": m.Object}
	case broker.QueryEvent:
		if m.QueryID != queryID {
			return "", nil
		}
		return "event", map[string]interface{}{"object": m.Object, "event": m.Event, "data": m.Data}
	default:
		return "", nil
	}
}

func writeSSE(w http.ResponseWriter, name string, data interface{}) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return
	}
	w.Write([]byte("event:" + name + "\ndata:" + string(encoded) + "\n\n"))
}

// handleWebSocket upgrades the connection and speaks the same request/
// response/event envelope as the TCP transport, text-framed per message
// (one JSON document per WebSocket frame — no length prefix needed, the
// frame boundary already is the message boundary) with stream binary
// payloads sent as WebSocket binary frames instead of text.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	go s.serveWebSocket(conn)
}

func (s *Server) serveWebSocket(conn net.Conn) {
	defer conn.Close()

	client := s.broker.Connect()
	defer s.broker.Disconnect(client.ID)

	limiter := ratelimit.New(50, 200)

	// responses, the only frames the read loop itself produces, are
	// funneled through this channel rather than written directly, so
	// wsWriteLoop remains the single writer to conn (see wsWriteLoop).
	responses := make(chan wire.Response, 16)
	done := make(chan struct{})
	go s.wsWriteLoop(conn, client, responses, done)
	defer close(done)

	for {
		msg, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}

		switch op {
		case ws.OpText:
			if !limiter.Allow() {
				metrics.RateLimitedRequests.Inc()
				responses <- wire.Failure(nil, wire.ErrRateLimited)
				continue
			}
			var req wire.Request
			if err := json.Unmarshal(msg, &req); err != nil {
				responses <- wire.Failure(nil, wire.ErrInvalidMessage)
				continue
			}
			resp := wire.Dispatch(&req, client, s.broker)
			if resp != nil {
				responses <- *resp
			}
		case ws.OpBinary:
			index, data, err := wire.DecodeStreamFrame(msg)
			if err != nil {
				continue
			}
			s.broker.StreamSend(index, data, client.ID)
		case ws.OpClose:
			return
		}
	}
}

// wsWriteLoop is the sole writer to conn: it interleaves request
// responses and broker fan-out events onto one frame stream, since
// wsutil.WriteServerMessage writes its header and payload as two
// separate Write calls and two goroutines writing concurrently would
// desync the reader.
func (s *Server) wsWriteLoop(conn net.Conn, client *broker.Client, responses <-chan wire.Response, done <-chan struct{}) {
	for {
		select {
		case resp := <-responses:
			encoded, err := json.Marshal(resp)
			if err != nil {
				continue
			}
			if err := wsutil.WriteServerMessage(conn, ws.OpText, encoded); err != nil {
				return
			}
		case msg, ok := <-client.Inbox():
			if !ok {
				return
			}
			event, binary := wire.EncodeEvent(msg)
			if binary != nil {
				if err := wsutil.WriteServerMessage(conn, ws.OpBinary, binary); err != nil {
					return
				}
				continue
			}
			encoded, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if err := wsutil.WriteServerMessage(conn, ws.OpText, encoded); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Server) handleAdminAssets(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/")
	s.serveAdminAsset(w, r, name)
}

// serveAdminAsset serves a static admin UI asset from the configured
// override directory. There is no embedded admin UI in this build (the
// original ships a bundled frontend out of scope for this repo); an
// operator points AssetOverrides at a directory of pre-built static
// files to enable the admin UI.
func (s *Server) serveAdminAsset(w http.ResponseWriter, r *http.Request, name string) {
	if s.admin.AssetOverrides == "" {
		errorResponse(w, http.StatusNotFound, "not found")
		return
	}
	clean := path.Clean("/" + name)
	http.ServeFile(w, r, path.Join(s.admin.AssetOverrides, clean))
}
