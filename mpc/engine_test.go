package mpc

import (
	"crypto/sha256"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/twoshard/enclave-signer/errors"
)

// runDKG drives a full DKG between the engine and a counterparty.
func runDKG(t *testing.T, e Engine, client *Counterparty) *DKGResult {
	t.Helper()

	st, out, err := e.StartDKG()
	require.NoError(t, err)
	require.NotEmpty(t, out)
	require.Equal(t, ProtocolDKG, st.Protocol())
	require.Equal(t, 1, st.Round())

	res, err := e.StepDKG(st, client.DKGRound1())
	require.NoError(t, err)
	require.Equal(t, StatusContinue, res.Status)
	require.Equal(t, 2, res.State.Round())

	res, err = e.StepDKG(res.State, client.DKGRound2())
	require.NoError(t, err)
	require.Equal(t, StatusContinue, res.Status)
	require.NotEmpty(t, res.Outgoing)

	ack, err := client.DKGRound3(res.Outgoing)
	require.NoError(t, err)

	res, err = e.StepDKG(res.State, ack)
	require.NoError(t, err)
	require.Equal(t, StatusDone, res.Status)
	require.NotNil(t, res.DKG)
	return res.DKG
}

func TestDKGCompletes(t *testing.T) {
	e := NewEngine()
	client := NewCounterparty()

	result := runDKG(t, e, client)

	assert.Len(t, result.PublicKey, 65)
	assert.NotEmpty(t, result.Shard)
	assert.Regexp(t, `^0x[0-9a-fA-F]{40}$`, result.Address)
	assert.Equal(t, result.PublicKey, client.CombinedPublicKey)
	assert.Equal(t, result.Address, client.Address)
}

func TestDKGAddressDeterministic(t *testing.T) {
	result := runDKG(t, NewEngine(), NewCounterparty())

	pub, err := crypto.UnmarshalPubkey(result.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(*pub).Hex(), result.Address)
}

func TestDKGDistinctRuns(t *testing.T) {
	a := runDKG(t, NewEngine(), NewCounterparty())
	b := runDKG(t, NewEngine(), NewCounterparty())

	assert.NotEqual(t, a.Address, b.Address)
	assert.NotEqual(t, a.PublicKey, b.PublicKey)
}

func TestDKGRejectsWrongRound(t *testing.T) {
	e := NewEngine()
	client := NewCounterparty()

	st, _, err := e.StartDKG()
	require.NoError(t, err)

	// Round-2 message against a round-1 session.
	_, err = e.StepDKG(st, client.DKGRound2())
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeMPC, apperrors.CodeOf(err))
}

func TestDKGRejectsReplayedRound(t *testing.T) {
	e := NewEngine()
	client := NewCounterparty()

	st, _, err := e.StartDKG()
	require.NoError(t, err)

	round1 := client.DKGRound1()
	res, err := e.StepDKG(st, round1)
	require.NoError(t, err)

	_, err = e.StepDKG(res.State, round1)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeMPC, apperrors.CodeOf(err))
}

func TestDKGRejectsUndecodableMessage(t *testing.T) {
	e := NewEngine()

	st, _, err := e.StartDKG()
	require.NoError(t, err)

	for _, incoming := range [][]byte{nil, {0xff, 0xfe, 0xfd}, []byte("not cbor")} {
		_, err = e.StepDKG(st, incoming)
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeMPC, apperrors.CodeOf(err))
	}
}

func TestDKGRejectsAddressMismatchAck(t *testing.T) {
	e := NewEngine()
	client := NewCounterparty()

	st, _, err := e.StartDKG()
	require.NoError(t, err)
	res, err := e.StepDKG(st, client.DKGRound1())
	require.NoError(t, err)
	res, err = e.StepDKG(res.State, client.DKGRound2())
	require.NoError(t, err)

	forged := mustEncode(3, dkgAckBody{Ack: true, Address: common.Address{1}.Hex()})
	_, err = e.StepDKG(res.State, forged)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeMPC, apperrors.CodeOf(err))
}

func TestStepDKGRejectsForeignState(t *testing.T) {
	e := NewEngine()
	client := NewCounterparty()
	dkg := runDKG(t, e, client)

	digest := sha256.Sum256([]byte("payload"))
	st, _, err := e.StartSign(dkg.Shard, digest[:])
	require.NoError(t, err)

	_, err = e.StepDKG(st, client.DKGRound1())
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeMPC, apperrors.CodeOf(err))
}

func TestSignProducesFixedLengthPartial(t *testing.T) {
	e := NewEngine()
	client := NewCounterparty()
	dkg := runDKG(t, e, client)

	digest := sha256.Sum256([]byte("transfer 1 wei"))
	st, out, err := e.StartSign(dkg.Shard, digest[:])
	require.NoError(t, err)
	require.NotEmpty(t, out)
	require.Equal(t, ProtocolSign, st.Protocol())

	res, err := e.StepSign(st, client.SignRound1())
	require.NoError(t, err)
	require.Equal(t, StatusDone, res.Status)
	require.NotNil(t, res.Signing)
	assert.Len(t, res.Signing.ServerPartial, partialLength)
}

func TestStartSignValidatesInputs(t *testing.T) {
	e := NewEngine()
	dkg := runDKG(t, e, NewCounterparty())

	_, _, err := e.StartSign([]byte("garbage"), make([]byte, 32))
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeMPCInvalidShare, apperrors.CodeOf(err))

	_, _, err = e.StartSign(dkg.Shard, []byte("short"))
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeSigning, apperrors.CodeOf(err))
}

func TestStepSignRejectsDKGState(t *testing.T) {
	e := NewEngine()
	client := NewCounterparty()

	st, _, err := e.StartDKG()
	require.NoError(t, err)

	_, err = e.StepSign(st, client.SignRound1())
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeMPC, apperrors.CodeOf(err))
}

func TestRecoverVerifies(t *testing.T) {
	e := NewEngine()
	client := NewCounterparty()
	dkg := runDKG(t, e, client)

	res, err := e.StartRecover("acct-1", dkg.Shard, client.RecoveryChallenge("acct-1"))
	require.NoError(t, err)
	require.Equal(t, StatusDone, res.Status)
	require.NotNil(t, res.Recovery)
	assert.True(t, res.Recovery.Verified)
	assert.Equal(t, dkg.Address, res.Recovery.Address)
}

func TestRecoverRejectsForeignShare(t *testing.T) {
	e := NewEngine()
	client := NewCounterparty()
	dkg := runDKG(t, e, client)

	res, err := e.StartRecover("acct-1", dkg.Shard, ForgedRecoveryChallenge("acct-1"))
	require.NoError(t, err)
	require.NotNil(t, res.Recovery)
	assert.False(t, res.Recovery.Verified)
	assert.Empty(t, res.Recovery.Address)
}

func TestRecoverRejectsRebindToOtherAccount(t *testing.T) {
	e := NewEngine()
	client := NewCounterparty()
	dkg := runDKG(t, e, client)

	// Challenge bound to a different account identifier must not verify.
	res, err := e.StartRecover("acct-2", dkg.Shard, client.RecoveryChallenge("acct-1"))
	require.NoError(t, err)
	require.NotNil(t, res.Recovery)
	assert.False(t, res.Recovery.Verified)
}

func TestRecoverRejectsMalformedChallenge(t *testing.T) {
	e := NewEngine()
	dkg := runDKG(t, NewEngine(), NewCounterparty())

	_, err := e.StartRecover("acct-1", dkg.Shard, []byte{0x01, 0x02})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeMPC, apperrors.CodeOf(err))
}

func TestStepRecoverHasNoContinuation(t *testing.T) {
	e := NewEngine()
	st := &State{protocol: ProtocolRecover, round: 1}

	_, err := e.StepRecover(st, []byte("anything"))
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeMPC, apperrors.CodeOf(err))
}
