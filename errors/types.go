// Package errors defines the stable error taxonomy surfaced to callers.
// Every failure that crosses the dispatcher boundary is classified into
// exactly one Code; nothing below the dispatcher leaks unclassified errors
// onto the wire.
package errors

import "fmt"

// Code identifies a category in the error taxonomy.
type Code string

const (
	// CodeInvalidRequest indicates malformed or undecodable input.
	CodeInvalidRequest Code = "INVALID_REQUEST"

	// CodeInvalidSession indicates an unknown, expired, or wrong-protocol session.
	CodeInvalidSession Code = "INVALID_SESSION"

	// CodeAccountNotFound indicates the referenced account does not exist.
	CodeAccountNotFound Code = "ACCOUNT_NOT_FOUND"

	// CodeKeystore indicates an I/O failure against durable storage.
	CodeKeystore Code = "KEYSTORE_ERROR"

	// CodeMPC indicates a protocol round-sequencing violation or a
	// message-decode failure inside the engine.
	CodeMPC Code = "MPC_ERROR"

	// CodeMPCTimeout indicates a protocol round did not complete in time.
	CodeMPCTimeout Code = "MPC_TIMEOUT"

	// CodeMPCPartyMissing indicates a required counterparty contribution is absent.
	CodeMPCPartyMissing Code = "MPC_PARTY_MISSING"

	// CodeMPCInvalidShare indicates a key share failed validation.
	CodeMPCInvalidShare Code = "MPC_INVALID_SHARE"

	// CodeSigning indicates a signing operation failed.
	CodeSigning Code = "SIGNING_ERROR"

	// CodeRecoveryFailed indicates shard-recovery verification returned false.
	CodeRecoveryFailed Code = "RECOVERY_FAILED"

	// CodeInternal indicates an unexpected internal failure.
	CodeInternal Code = "INTERNAL_ERROR"
)

// Error is a classified error carried from any internal component up to the
// dispatcher, which renders it into the wire-level error envelope.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}
