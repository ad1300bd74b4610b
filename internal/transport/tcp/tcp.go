// Package tcp serves the broker's wire protocol over plain TCP
// connections, framed per internal/wire's TCP frame format (length-
// prefixed, JSON or raw stream binary).
package tcp

import (
	"bufio"
	"encoding/json"
	"net"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/objtalk/objtalkd/internal/broker"
	"github.com/objtalk/objtalkd/internal/metrics"
	"github.com/objtalk/objtalkd/internal/ratelimit"
	"github.com/objtalk/objtalkd/internal/wire"
)

// Server listens on one TCP address and speaks the wire protocol to
// every connection it accepts.
type Server struct {
	addr     string
	broker   *broker.Broker
	log      zerolog.Logger
	listener net.Listener
	closing  int32
}

// New constructs a Server bound to b. Serve must be called to start
// accepting connections.
func New(addr string, b *broker.Broker, log zerolog.Logger) *Server {
	return &Server{addr: addr, broker: b, log: log.With().Str("transport", "tcp").Str("addr", addr).Logger()}
}

// Serve accepts connections until the listener is closed by Close.
func (s *Server) Serve() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.log.Info().Msg("tcp transport listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			if atomic.LoadInt32(&s.closing) == 1 {
				return nil
			}
			s.log.Warn().Err(err).Msg("accept error")
			continue
		}
		go s.serveConn(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	atomic.StoreInt32(&s.closing, 1)
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	client := s.broker.Connect()
	defer s.broker.Disconnect(client.ID)

	limiter := ratelimit.New(50, 200)

	// responses, the only frames the read loop itself produces, are
	// funneled through this channel rather than written directly, so
	// writeLoop remains the single writer to conn (see writeLoop).
	responses := make(chan wire.Response, 16)
	done := make(chan struct{})
	go s.writeLoop(conn, client, responses, done)
	defer close(done)

	reader := bufio.NewReader(conn)
	for {
		kind, payload, err := wire.ReadTCPFrame(reader)
		if err != nil {
			return
		}
		if kind == wire.TCPFrameStream {
			index, data, err := wire.DecodeStreamFrame(payload)
			if err != nil {
				continue
			}
			s.broker.StreamSend(index, data, client.ID)
			continue
		}

		if !limiter.Allow() {
			metrics.RateLimitedRequests.Inc()
			responses <- wire.Failure(nil, wire.ErrRateLimited)
			continue
		}

		var req wire.Request
		if err := json.Unmarshal(payload, &req); err != nil {
			responses <- wire.Failure(nil, wire.ErrInvalidMessage)
			continue
		}

		resp := wire.Dispatch(&req, client, s.broker)
		if resp != nil {
			responses <- *resp
		}
	}
}

// writeLoop is the sole writer to conn: it interleaves request responses
// and broker fan-out events onto one frame stream, since wire.WriteTCPFrame
// writes its header and payload as two separate Write calls and two
// goroutines writing concurrently would desync the reader.
func (s *Server) writeLoop(conn net.Conn, client *broker.Client, responses <-chan wire.Response, done <-chan struct{}) {
	for {
		select {
		case resp := <-responses:
			encoded, err := json.Marshal(resp)
			if err != nil {
				continue
			}
			if err := wire.WriteTCPFrame(conn, wire.TCPFrameJSON, encoded); err != nil {
				return
			}
		case msg, ok := <-client.Inbox():
			if !ok {
				return
			}
			event, binary := wire.EncodeEvent(msg)
			if binary != nil {
				if err := wire.WriteTCPFrame(conn, wire.TCPFrameStream, binary); err != nil {
					return
				}
				continue
			}
			encoded, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if err := wire.WriteTCPFrame(conn, wire.TCPFrameJSON, encoded); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
