// Package transport carries one request/response pair per connection across
// the isolated-environment boundary. The channel is a narrow byte pipe with
// no built-in message boundaries: framing is "try to parse the accumulated
// buffer as one JSON value, else wait for more bytes", guarded by a hard
// buffer cap. Exactly one JSON response plus a newline is written back, then
// the server closes the connection. A new request requires a new connection.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/twoshard/enclave-signer/dispatcher"
	apperrors "github.com/twoshard/enclave-signer/errors"
)

const (
	// DefaultMaxBufferBytes bounds how much unparsed input a connection may
	// accumulate before it is rejected.
	DefaultMaxBufferBytes = 100_000

	// DefaultReadTimeout bounds how long a connection may dribble bytes
	// without completing a request.
	DefaultReadTimeout = 30 * time.Second

	readChunkSize = 4096
)

// Config tunes the transport server. Zero values take the defaults.
type Config struct {
	MaxBufferBytes int
	ReadTimeout    time.Duration
}

// Server accepts connections and drives the per-connection framing state
// machine: accumulate, parse, dispatch, respond once, close.
type Server struct {
	dispatcher  *dispatcher.Dispatcher
	logger      zerolog.Logger
	maxBuffer   int
	readTimeout time.Duration
}

// NewServer creates a transport server over the given dispatcher.
func NewServer(d *dispatcher.Dispatcher, cfg Config, logger zerolog.Logger) *Server {
	maxBuffer := cfg.MaxBufferBytes
	if maxBuffer == 0 {
		maxBuffer = DefaultMaxBufferBytes
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = DefaultReadTimeout
	}
	return &Server{
		dispatcher:  d,
		logger:      logger.With().Str("component", "transport").Logger(),
		maxBuffer:   maxBuffer,
		readTimeout: readTimeout,
	}
}

// Serve accepts connections until the context is cancelled or the listener
// fails. Each connection is handled on its own goroutine; sessions spanning
// multiple requests therefore span multiple connections.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.logger.Info().Str("address", ln.Addr().String()).Msg("transport listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		go s.HandleConn(ctx, conn)
	}
}

// HandleConn runs the framing state machine for one connection.
func (s *Server) HandleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))

	buf := make([]byte, 0, readChunkSize)
	chunk := make([]byte, readChunkSize)

	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)

			req, state := tryParse(buf)
			switch state {
			case parsed:
				resp := s.dispatcher.Handle(ctx, req)
				s.writeResponse(conn, resp)
				return
			case malformed:
				s.writeResponse(conn, dispatcher.ErrorResponse("",
					apperrors.New(apperrors.CodeInvalidRequest, "malformed request")))
				return
			case incomplete:
				if len(buf) > s.maxBuffer {
					s.writeResponse(conn, dispatcher.ErrorResponse("",
						apperrors.Newf(apperrors.CodeInvalidRequest,
							"request exceeds %d bytes without parsing", s.maxBuffer)))
					return
				}
			}
		}
		if err != nil {
			// The peer gave up (or stalled past the deadline) before a
			// complete request arrived.
			if len(buf) > 0 && !errors.Is(err, io.EOF) {
				s.logger.Debug().Err(err).Msg("connection failed mid-request")
			}
			if len(buf) > 0 {
				s.writeResponse(conn, dispatcher.ErrorResponse("",
					apperrors.New(apperrors.CodeInvalidRequest, "incomplete request")))
			}
			return
		}
	}
}

type parseState int

const (
	incomplete parseState = iota
	parsed
	malformed
)

// tryParse attempts to decode the whole buffer as one request envelope. A
// syntax error at the very end of the buffer means more bytes may still
// complete the value; anything else cannot be fixed by more data.
func tryParse(buf []byte) (*dispatcher.Request, parseState) {
	var req dispatcher.Request
	err := json.Unmarshal(buf, &req)
	if err == nil {
		return &req, parsed
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) && syntaxErr.Offset >= int64(len(buf)) {
		return nil, incomplete
	}
	return nil, malformed
}

// writeResponse writes the single response object and its newline
// delimiter. Write failures are logged and the connection dropped; the peer
// already received, or will never receive, a terminal outcome.
func (s *Server) writeResponse(conn net.Conn, resp *dispatcher.Response) {
	_ = conn.SetWriteDeadline(time.Now().Add(s.readTimeout))
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.logger.Warn().Err(err).Msg("failed to write response")
	}
}
