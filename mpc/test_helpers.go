package mpc

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// Counterparty drives the client half of each protocol against the engine.
// It lives on the user's device in a real deployment; here it backs the
// engine, dispatcher, and transport tests.
type Counterparty struct {
	seed     []byte
	shareKey *ecdsa.PublicKey

	// Learned from the DKG round-3 message.
	CombinedPublicKey []byte
	Address           string
}

// NewCounterparty creates a client party with a fresh share contribution.
func NewCounterparty() *Counterparty {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		panic(fmt.Sprintf("reading entropy: %v", err))
	}
	return &Counterparty{
		seed:     seed,
		shareKey: derivePublicShare(seed),
	}
}

// DKGRound1 returns the client's commitment message.
func (c *Counterparty) DKGRound1() []byte {
	return mustEncode(1, dkgCommitBody{
		Commitment: commitShare(crypto.CompressPubkey(c.shareKey)),
	})
}

// DKGRound2 returns the client's share contribution.
func (c *Counterparty) DKGRound2() []byte {
	return mustEncode(2, dkgSeedBody{ShareSeed: c.seed})
}

// DKGRound3 consumes the server's combined-key message and returns the
// acknowledgement that completes the protocol.
func (c *Counterparty) DKGRound3(serverMsg []byte) ([]byte, error) {
	msg, err := decodeMessage(serverMsg)
	if err != nil {
		return nil, err
	}
	var body dkgCombinedBody
	if err := decodeBody(msg, &body); err != nil {
		return nil, err
	}
	c.CombinedPublicKey = body.PublicKey
	c.Address = body.Address
	return mustEncode(3, dkgAckBody{Ack: true, Address: body.Address}), nil
}

// SignRound1 returns the client's nonce contribution.
func (c *Counterparty) SignRound1() []byte {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		panic(fmt.Sprintf("reading entropy: %v", err))
	}
	return mustEncode(1, signContribBody{NonceSeed: seed})
}

// RecoveryChallenge builds a valid challenge for the given account.
func (c *Counterparty) RecoveryChallenge(accountID string) []byte {
	share := crypto.CompressPubkey(c.shareKey)
	return mustEncode(1, recoverChallengeBody{
		ClientShare: share,
		Binding:     challengeBinding(accountID, share),
	})
}

// ForgedRecoveryChallenge builds a well-formed challenge whose share does not
// belong to this counterparty's account.
func ForgedRecoveryChallenge(accountID string) []byte {
	other := NewCounterparty()
	return other.RecoveryChallenge(accountID)
}

// RawMessage encodes an arbitrary round-tagged payload, for tests probing
// round discipline with opaque bytes.
func RawMessage(round int, payload []byte) []byte {
	data, err := encodeMessage(round, payload)
	if err != nil {
		panic(fmt.Sprintf("encoding raw message: %v", err))
	}
	return data
}

func mustEncode(round int, body any) []byte {
	data, err := encodeMessage(round, body)
	if err != nil {
		panic(fmt.Sprintf("encoding round %d body: %v", round, err))
	}
	return data
}
