// Package dispatcher routes decoded requests to engine operations, enforces
// session and account preconditions, and maps every internal failure onto
// the stable error taxonomy before the transport sees it.
package dispatcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/twoshard/enclave-signer/errors"
	"github.com/twoshard/enclave-signer/keystore"
	"github.com/twoshard/enclave-signer/metrics"
	"github.com/twoshard/enclave-signer/mpc"
	"github.com/twoshard/enclave-signer/session"
)

// Endpoint names, independent of any HTTP mapping an edge collaborator uses.
const (
	EndpointHealth             = "health"
	EndpointCreateAccountStart = "createAccount/start"
	EndpointCreateAccountStep  = "createAccount/step"
	EndpointGetPublicKey       = "getPublicKey"
	EndpointSignStart          = "sign/start"
	EndpointSignStep           = "sign/step"
	EndpointRecoverStart       = "recover/start"
	EndpointRecoverStep        = "recover/step"
)

// Dispatcher orchestrates the session manager, keystore, and protocol
// engine. The engine never touches storage or the network; all ordering
// between the three happens here.
type Dispatcher struct {
	sessions *session.Manager
	keys     keystore.Store
	engine   mpc.Engine
	logger   zerolog.Logger
}

// New creates a dispatcher. All collaborators are lifecycle-scoped and
// injected; nothing here is process-global.
func New(sessions *session.Manager, keys keystore.Store, engine mpc.Engine, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		sessions: sessions,
		keys:     keys,
		engine:   engine,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Handle processes one request and always produces a response: any failure
// from below is classified and echoed back with the original request id.
func (d *Dispatcher) Handle(ctx context.Context, req *Request) *Response {
	start := time.Now()

	data, err := d.dispatch(ctx, req)

	code := "OK"
	var resp *Response
	if err != nil {
		code = string(apperrors.CodeOf(err))
		d.logger.Warn().
			Str("endpoint", req.Endpoint).
			Str("request_id", req.RequestID).
			Str("code", code).
			Err(err).
			Msg("request failed")
		resp = ErrorResponse(req.RequestID, err)
	} else {
		resp = SuccessResponse(req.RequestID, data)
	}

	metrics.RequestsTotal.WithLabelValues(req.Endpoint, code).Inc()
	metrics.RequestDuration.WithLabelValues(req.Endpoint).Observe(time.Since(start).Seconds())
	metrics.ActiveSessions.Set(float64(d.sessions.ActiveCount()))
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, req *Request) (any, error) {
	switch req.Endpoint {
	case EndpointHealth:
		return d.handleHealth(ctx)
	case EndpointCreateAccountStart:
		return d.handleCreateAccountStart(ctx)
	case EndpointCreateAccountStep:
		return d.handleCreateAccountStep(ctx, req.Body)
	case EndpointGetPublicKey:
		return d.handleGetPublicKey(ctx, req.Body)
	case EndpointSignStart:
		return d.handleSignStart(ctx, req.Body)
	case EndpointSignStep:
		return d.handleSignStep(ctx, req.Body)
	case EndpointRecoverStart:
		return d.handleRecoverStart(ctx, req.Body)
	case EndpointRecoverStep:
		return d.handleRecoverStep(ctx, req.Body)
	case "":
		return nil, apperrors.New(apperrors.CodeInvalidRequest, "endpoint is missing")
	default:
		return nil, apperrors.Newf(apperrors.CodeInvalidRequest, "unknown endpoint %q", req.Endpoint)
	}
}

// decodeInto parses an endpoint body. A missing body is decoded as empty so
// per-handler field validation produces the precise complaint.
func decodeInto(body json.RawMessage, into any) error {
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, into); err != nil {
		return apperrors.Wrap(err, apperrors.CodeInvalidRequest, "undecodable request body")
	}
	return nil
}

// getSession loads a live session and checks its protocol tag against the
// entry point about to consume it.
func (d *Dispatcher) getSession(sessionID string, protocol mpc.Protocol) (*session.Session, error) {
	if sessionID == "" {
		return nil, apperrors.New(apperrors.CodeInvalidRequest, "sessionId is missing")
	}
	sess, ok := d.sessions.Get(sessionID)
	if !ok {
		return nil, apperrors.New(apperrors.CodeInvalidSession, "unknown or expired session")
	}
	if sess.Protocol != protocol {
		return nil, apperrors.Newf(apperrors.CodeInvalidSession,
			"session belongs to protocol %s", sess.Protocol)
	}
	return sess, nil
}
