// Package mpc implements the two-party protocol engine driving distributed
// key generation, threshold signing, and shard-recovery verification.
//
// The engine is pure with respect to external state: every entry point
// consumes prior state plus an incoming protocol message and produces next
// state plus an outgoing message or a terminal result. It never touches
// storage or the network; the dispatcher orchestrates both.
//
// The round sequencing, session tagging, and message framing here are
// normative. The cryptographic content of each round is a reference
// construction: a production deployment swaps the Engine implementation for
// a vetted threshold-ECDSA construction without touching any other package.
package mpc

import (
	"github.com/fxamacker/cbor/v2"

	apperrors "github.com/twoshard/enclave-signer/errors"
)

// Protocol tags a session with the entry points that may legally consume it.
type Protocol string

const (
	ProtocolDKG     Protocol = "DKG"
	ProtocolSign    Protocol = "SIGN"
	ProtocolRecover Protocol = "RECOVER"
)

// Status reports whether a protocol run needs more rounds or has terminated.
type Status string

const (
	StatusContinue Status = "CONTINUE"
	StatusDone     Status = "DONE"
)

// State is the engine-owned session payload. It is a tagged variant: exactly
// one protocol-specific body is populated, and every entry point checks the
// tag before consuming it. Callers treat it as opaque.
type State struct {
	protocol Protocol
	round    int

	dkg  *dkgState
	sign *signState
}

// Protocol returns the session tag.
func (s *State) Protocol() Protocol { return s.protocol }

// Round returns the round the engine expects to consume next.
func (s *State) Round() int { return s.round }

// DKGResult is produced on the terminal DKG round.
type DKGResult struct {
	// Shard is the server key share exactly as it must be persisted.
	Shard []byte
	// PublicKey is the combined public key, uncompressed (65 bytes).
	PublicKey []byte
	// Address is the canonical public identifier derived from PublicKey.
	Address string
}

// SigningResult is produced on the terminal signing round. It carries the
// server's partial only; the client combines partials into a signature.
type SigningResult struct {
	ServerPartial []byte
}

// RecoveryResult reports the outcome of shard-recovery verification.
type RecoveryResult struct {
	Verified bool
	Address  string
}

// StepResult bundles the outputs of a step entry point. State is nil once
// Status is StatusDone. Outgoing may be nil on the terminal round.
type StepResult struct {
	State    *State
	Status   Status
	Outgoing []byte

	DKG      *DKGResult
	Signing  *SigningResult
	Recovery *RecoveryResult
}

// Engine is the protocol contract. Incoming and outgoing protocol messages
// are opaque round-tagged byte payloads; their encoding is owned here and
// must not be interpreted by any other layer.
type Engine interface {
	StartDKG() (*State, []byte, error)
	StepDKG(st *State, incoming []byte) (*StepResult, error)

	StartSign(shard, digest []byte) (*State, []byte, error)
	StepSign(st *State, incoming []byte) (*StepResult, error)

	StartRecover(accountID string, shard, challenge []byte) (*StepResult, error)
	StepRecover(st *State, incoming []byte) (*StepResult, error)
}

// message is the wire form of a protocol message.
type message struct {
	Round   int    `cbor:"1,keyasint"`
	Payload []byte `cbor:"2,keyasint"`
}

func encodeMessage(round int, body any) ([]byte, error) {
	payload, err := cbor.Marshal(body)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeMPC, "encoding round payload")
	}
	data, err := cbor.Marshal(message{Round: round, Payload: payload})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeMPC, "encoding protocol message")
	}
	return data, nil
}

func decodeMessage(data []byte) (*message, error) {
	if len(data) == 0 {
		return nil, apperrors.New(apperrors.CodeMPC, "empty protocol message")
	}
	var msg message
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeMPC, "undecodable protocol message")
	}
	return &msg, nil
}

func decodeBody(msg *message, into any) error {
	if err := cbor.Unmarshal(msg.Payload, into); err != nil {
		return apperrors.Wrap(err, apperrors.CodeMPC, "undecodable round payload")
	}
	return nil
}
