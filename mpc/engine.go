package mpc

import (
	"bytes"
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/zeebo/blake3"

	apperrors "github.com/twoshard/enclave-signer/errors"
)

const (
	dkgRounds  = 3
	signRounds = 1

	digestLength  = 32
	partialLength = 64
)

// engine is the reference construction. Round sequencing and state tagging
// are exactly what a production construction must provide; the share and
// partial-signature math is illustrative.
type engine struct{}

// NewEngine returns the reference protocol engine.
func NewEngine() Engine {
	return engine{}
}

// Round bodies exchanged with the counterparty. Field numbers are part of
// the message format and must not be reordered.
type (
	dkgCommitBody struct {
		Commitment []byte `cbor:"1,keyasint"`
	}
	dkgRevealBody struct {
		ServerShare []byte `cbor:"1,keyasint"`
	}
	dkgSeedBody struct {
		ShareSeed []byte `cbor:"1,keyasint"`
	}
	dkgCombinedBody struct {
		PublicKey []byte `cbor:"1,keyasint"`
		Address   string `cbor:"2,keyasint"`
	}
	dkgAckBody struct {
		Ack     bool   `cbor:"1,keyasint"`
		Address string `cbor:"2,keyasint,omitempty"`
	}
	signNonceBody struct {
		NoncePoint []byte `cbor:"1,keyasint"`
	}
	signContribBody struct {
		NonceSeed []byte `cbor:"1,keyasint"`
	}
	recoverChallengeBody struct {
		ClientShare []byte `cbor:"1,keyasint"`
		Binding     []byte `cbor:"2,keyasint"`
	}
)

type dkgState struct {
	key              *ecdsa.PrivateKey
	clientCommitment []byte
	combined         *ecdsa.PublicKey
	address          string
}

type signState struct {
	key     *ecdsa.PrivateKey
	digest  []byte
	address string
}

// StartDKG draws the server's share and emits the round-1 commitment to it.
func (engine) StartDKG() (*State, []byte, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, nil, apperrors.Wrap(err, apperrors.CodeMPC, "generating server share")
	}

	commitment := commitShare(crypto.CompressPubkey(&key.PublicKey))
	out, err := encodeMessage(1, dkgCommitBody{Commitment: commitment})
	if err != nil {
		return nil, nil, err
	}

	st := &State{
		protocol: ProtocolDKG,
		round:    1,
		dkg:      &dkgState{key: key},
	}
	return st, out, nil
}

// StepDKG consumes one client round. Round 1 records the client commitment
// and reveals the server share. Round 2 derives the combined public key and
// its address from the client contribution. Round 3 verifies the client's
// acknowledgement and produces the shard to persist.
func (engine) StepDKG(st *State, incoming []byte) (*StepResult, error) {
	if st == nil || st.protocol != ProtocolDKG || st.dkg == nil {
		return nil, apperrors.New(apperrors.CodeMPC, "state does not belong to a DKG session")
	}
	msg, err := decodeMessage(incoming)
	if err != nil {
		return nil, err
	}
	if msg.Round != st.round {
		return nil, apperrors.Newf(apperrors.CodeMPC, "expected round %d, got %d", st.round, msg.Round)
	}

	switch st.round {
	case 1:
		var body dkgCommitBody
		if err := decodeBody(msg, &body); err != nil {
			return nil, err
		}
		if len(body.Commitment) == 0 {
			return nil, apperrors.New(apperrors.CodeMPCPartyMissing, "client commitment missing")
		}
		st.dkg.clientCommitment = body.Commitment

		out, err := encodeMessage(2, dkgRevealBody{
			ServerShare: crypto.CompressPubkey(&st.dkg.key.PublicKey),
		})
		if err != nil {
			return nil, err
		}
		st.round = 2
		return &StepResult{State: st, Status: StatusContinue, Outgoing: out}, nil

	case 2:
		var body dkgSeedBody
		if err := decodeBody(msg, &body); err != nil {
			return nil, err
		}
		if len(body.ShareSeed) == 0 {
			return nil, apperrors.New(apperrors.CodeMPCPartyMissing, "client share contribution missing")
		}

		clientShare := derivePublicShare(body.ShareSeed)
		combined := combineShares(&st.dkg.key.PublicKey, clientShare)
		st.dkg.combined = combined
		st.dkg.address = crypto.PubkeyToAddress(*combined).Hex()

		out, err := encodeMessage(3, dkgCombinedBody{
			PublicKey: crypto.FromECDSAPub(combined),
			Address:   st.dkg.address,
		})
		if err != nil {
			return nil, err
		}
		st.round = 3
		return &StepResult{State: st, Status: StatusContinue, Outgoing: out}, nil

	case 3:
		var body dkgAckBody
		if err := decodeBody(msg, &body); err != nil {
			return nil, err
		}
		if body.Address != "" && body.Address != st.dkg.address {
			return nil, apperrors.New(apperrors.CodeMPC, "address confirmation mismatch")
		}

		publicKey := crypto.FromECDSAPub(st.dkg.combined)
		shard, err := encodeShard(&serverShard{
			Scalar:    crypto.FromECDSA(st.dkg.key),
			PublicKey: publicKey,
			Address:   st.dkg.address,
		})
		if err != nil {
			return nil, err
		}
		return &StepResult{
			Status: StatusDone,
			DKG: &DKGResult{
				Shard:     shard,
				PublicKey: publicKey,
				Address:   st.dkg.address,
			},
		}, nil

	default:
		return nil, apperrors.Newf(apperrors.CodeMPC, "DKG rounds exhausted at round %d", st.round)
	}
}

// StartSign loads the server shard, draws a fresh nonce, and emits its
// public nonce point as the round-1 message.
func (engine) StartSign(shard, digest []byte) (*State, []byte, error) {
	decoded, err := decodeShard(shard)
	if err != nil {
		return nil, nil, err
	}
	if len(digest) != digestLength {
		return nil, nil, apperrors.Newf(apperrors.CodeSigning,
			"message digest must be %d bytes, got %d", digestLength, len(digest))
	}

	key, err := crypto.ToECDSA(decoded.Scalar)
	if err != nil {
		return nil, nil, apperrors.Wrap(err, apperrors.CodeMPCInvalidShare, "server shard scalar out of range")
	}
	nonce, err := crypto.GenerateKey()
	if err != nil {
		return nil, nil, apperrors.Wrap(err, apperrors.CodeSigning, "generating signing nonce")
	}

	out, err := encodeMessage(1, signNonceBody{
		NoncePoint: crypto.CompressPubkey(&nonce.PublicKey),
	})
	if err != nil {
		return nil, nil, err
	}

	st := &State{
		protocol: ProtocolSign,
		round:    1,
		sign: &signState{
			key:     key,
			digest:  append([]byte(nil), digest...),
			address: decoded.Address,
		},
	}
	return st, out, nil
}

// StepSign consumes the client nonce contribution and produces the server's
// signature partial. Never more than the partial leaves the engine.
func (engine) StepSign(st *State, incoming []byte) (*StepResult, error) {
	if st == nil || st.protocol != ProtocolSign || st.sign == nil {
		return nil, apperrors.New(apperrors.CodeMPC, "state does not belong to a signing session")
	}
	msg, err := decodeMessage(incoming)
	if err != nil {
		return nil, err
	}
	if st.round != 1 || msg.Round != st.round {
		return nil, apperrors.Newf(apperrors.CodeMPC, "expected round %d, got %d", st.round, msg.Round)
	}

	var body signContribBody
	if err := decodeBody(msg, &body); err != nil {
		return nil, err
	}
	if len(body.NonceSeed) == 0 {
		return nil, apperrors.New(apperrors.CodeMPCPartyMissing, "client nonce contribution missing")
	}

	sig, err := crypto.Sign(st.sign.digest, st.sign.key)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeSigning, "computing server partial")
	}
	return &StepResult{
		Status:  StatusDone,
		Signing: &SigningResult{ServerPartial: sig[:partialLength]},
	}, nil
}

// StartRecover verifies the caller's challenge against the stored server
// shard. The reference construction completes in a single exchange: the
// challenge carries the client's claimed public share and a binding over it,
// and verification succeeds only when the two shares combine to the
// account's public key. The shard itself never leaves the engine.
func (engine) StartRecover(accountID string, shard, challenge []byte) (*StepResult, error) {
	decoded, err := decodeShard(shard)
	if err != nil {
		return nil, err
	}
	msg, err := decodeMessage(challenge)
	if err != nil {
		return nil, err
	}
	if msg.Round != 1 {
		return nil, apperrors.Newf(apperrors.CodeMPC, "expected round 1 challenge, got %d", msg.Round)
	}

	var body recoverChallengeBody
	if err := decodeBody(msg, &body); err != nil {
		return nil, err
	}
	clientShare, err := decodePoint(body.ClientShare)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(body.Binding, challengeBinding(accountID, body.ClientShare)) {
		return &StepResult{Status: StatusDone, Recovery: &RecoveryResult{}}, nil
	}

	key, err := crypto.ToECDSA(decoded.Scalar)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeMPCInvalidShare, "server shard scalar out of range")
	}
	combined := combineShares(&key.PublicKey, clientShare)
	if !bytes.Equal(crypto.FromECDSAPub(combined), decoded.PublicKey) {
		return &StepResult{Status: StatusDone, Recovery: &RecoveryResult{}}, nil
	}

	return &StepResult{
		Status:   StatusDone,
		Recovery: &RecoveryResult{Verified: true, Address: decoded.Address},
	}, nil
}

// StepRecover exists for the contract; the reference construction has no
// continuation round, so any step is a sequencing violation.
func (engine) StepRecover(st *State, _ []byte) (*StepResult, error) {
	if st == nil || st.protocol != ProtocolRecover {
		return nil, apperrors.New(apperrors.CodeMPC, "state does not belong to a recovery session")
	}
	return nil, apperrors.New(apperrors.CodeMPC, "recovery has no continuation rounds")
}

// commitShare hashes a share point for the round-1 commitment exchange.
func commitShare(share []byte) []byte {
	sum := blake3.Sum256(share)
	return sum[:]
}

// derivePublicShare maps an opaque client contribution onto the curve.
func derivePublicShare(seed []byte) *ecdsa.PublicKey {
	sum := blake3.Sum256(seed)
	k := new(big.Int).SetBytes(sum[:])
	k.Mod(k, crypto.S256().Params().N)
	if k.Sign() == 0 {
		k.SetInt64(1)
	}
	var buf [32]byte
	k.FillBytes(buf[:])
	key := crypto.ToECDSAUnsafe(buf[:])
	return &key.PublicKey
}

// combineShares adds two public share points into the combined public key.
func combineShares(a, b *ecdsa.PublicKey) *ecdsa.PublicKey {
	curve := crypto.S256()
	x, y := curve.Add(a.X, a.Y, b.X, b.Y)
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}
}

// decodePoint accepts a compressed (33-byte) or uncompressed (65-byte) point.
func decodePoint(data []byte) (*ecdsa.PublicKey, error) {
	switch len(data) {
	case 33:
		pub, err := crypto.DecompressPubkey(data)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeMPC, "undecodable client share point")
		}
		return pub, nil
	case 65:
		pub, err := crypto.UnmarshalPubkey(data)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeMPC, "undecodable client share point")
		}
		return pub, nil
	default:
		return nil, apperrors.Newf(apperrors.CodeMPC, "client share point has invalid length %d", len(data))
	}
}

// challengeBinding ties a recovery challenge to the account it claims.
func challengeBinding(accountID string, clientShare []byte) []byte {
	h := blake3.New()
	h.Write([]byte(accountID))
	h.Write([]byte{0})
	h.Write(clientShare)
	return h.Sum(nil)
}
