package dispatcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/twoshard/enclave-signer/errors"
	"github.com/twoshard/enclave-signer/keystore"
	"github.com/twoshard/enclave-signer/metrics"
	"github.com/twoshard/enclave-signer/mpc"
)

type startResponse struct {
	SessionID string     `json:"sessionId"`
	Message   []byte     `json:"message"`
	Status    mpc.Status `json:"status"`
}

type stepRequest struct {
	SessionID string `json:"sessionId"`
	Message   []byte `json:"message"`
}

type dkgStepResponse struct {
	Status    mpc.Status `json:"status"`
	Message   []byte     `json:"message,omitempty"`
	AccountID string     `json:"accountId,omitempty"`
	Address   string     `json:"address,omitempty"`
	PublicKey []byte     `json:"publicKey,omitempty"`
}

type accountRequest struct {
	AccountID string `json:"accountId"`
}

type publicKeyResponse struct {
	AccountID  string    `json:"accountId"`
	Address    string    `json:"address"`
	PublicKey  []byte    `json:"publicKey"`
	Label      string    `json:"label,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUsedAt time.Time `json:"lastUsedAt,omitempty"`
}

type signStartRequest struct {
	AccountID string `json:"accountId"`
	Digest    []byte `json:"digest"`
}

type signStepResponse struct {
	Status        mpc.Status `json:"status"`
	ServerPartial []byte     `json:"serverPartial,omitempty"`
}

type recoverStartRequest struct {
	AccountID string `json:"accountId"`
	Challenge []byte `json:"challenge"`
}

type recoverResponse struct {
	Status   mpc.Status `json:"status"`
	Verified bool       `json:"verified"`
	Address  string     `json:"address,omitempty"`
}

type healthResponse struct {
	Status         string `json:"status"`
	KeystoreMode   string `json:"keystoreMode"`
	ActiveSessions int    `json:"activeSessions"`
	Accounts       int    `json:"accounts"`
}

func (d *Dispatcher) handleHealth(context.Context) (any, error) {
	resp := healthResponse{
		Status:         "ok",
		KeystoreMode:   d.keys.Mode(),
		ActiveSessions: d.sessions.ActiveCount(),
	}
	accounts, err := d.keys.ListAccounts()
	if err != nil {
		d.logger.Warn().Err(err).Msg("account listing failed during health check")
		resp.Status = "degraded"
	} else {
		resp.Accounts = len(accounts)
	}
	return resp, nil
}

func (d *Dispatcher) handleCreateAccountStart(context.Context) (any, error) {
	st, out, err := d.engine.StartDKG()
	if err != nil {
		return nil, err
	}

	sess, err := d.sessions.Create(mpc.ProtocolDKG, "")
	if err != nil {
		return nil, err
	}
	sess.State = st
	sess.Round = st.Round()
	d.sessions.Update(sess)

	return startResponse{SessionID: sess.ID, Message: out, Status: mpc.StatusContinue}, nil
}

func (d *Dispatcher) handleCreateAccountStep(ctx context.Context, body json.RawMessage) (any, error) {
	var req stepRequest
	if err := decodeInto(body, &req); err != nil {
		return nil, err
	}
	sess, err := d.getSession(req.SessionID, mpc.ProtocolDKG)
	if err != nil {
		return nil, err
	}

	sess.Lock()
	defer sess.Unlock()
	// A racing caller may have completed or expired the session while we
	// waited on the step lock.
	if _, ok := d.sessions.Get(sess.ID); !ok {
		return nil, apperrors.New(apperrors.CodeInvalidSession, "unknown or expired session")
	}

	res, err := d.engine.StepDKG(sess.State, req.Message)
	if err != nil {
		return nil, err
	}
	if res.Status == mpc.StatusContinue {
		sess.State = res.State
		sess.Round = res.State.Round()
		d.sessions.Update(sess)
		return dkgStepResponse{Status: mpc.StatusContinue, Message: res.Outgoing}, nil
	}

	// Terminal round: mint the account, persist shard then metadata, and
	// only then delete the session. The session is not the system of record
	// for a completed shard, so persistence must come first; on failure the
	// session survives and the terminal step can be retried.
	accountID := uuid.NewString()
	if err := d.keys.PersistServerShard(accountID, res.DKG.Shard); err != nil {
		return nil, err
	}
	if err := d.keys.PersistAccountMetadata(&keystore.Metadata{
		AccountID: accountID,
		Address:   res.DKG.Address,
		PublicKey: res.DKG.PublicKey,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return nil, err
	}
	d.sessions.Delete(sess.ID)
	metrics.AccountsCreatedTotal.Inc()

	d.logger.Info().
		Str("account_id", accountID).
		Str("address", res.DKG.Address).
		Msg("account created")
	return dkgStepResponse{
		Status:    mpc.StatusDone,
		AccountID: accountID,
		Address:   res.DKG.Address,
		PublicKey: res.DKG.PublicKey,
	}, nil
}

func (d *Dispatcher) handleGetPublicKey(_ context.Context, body json.RawMessage) (any, error) {
	var req accountRequest
	if err := decodeInto(body, &req); err != nil {
		return nil, err
	}
	if req.AccountID == "" {
		return nil, apperrors.New(apperrors.CodeInvalidRequest, "accountId is missing")
	}

	md, err := d.keys.LoadAccountMetadata(req.AccountID)
	if err != nil {
		return nil, err
	}
	return publicKeyResponse{
		AccountID:  md.AccountID,
		Address:    md.Address,
		PublicKey:  md.PublicKey,
		Label:      md.Label,
		CreatedAt:  md.CreatedAt,
		LastUsedAt: md.LastUsedAt,
	}, nil
}

func (d *Dispatcher) handleSignStart(_ context.Context, body json.RawMessage) (any, error) {
	var req signStartRequest
	if err := decodeInto(body, &req); err != nil {
		return nil, err
	}
	if req.AccountID == "" {
		return nil, apperrors.New(apperrors.CodeInvalidRequest, "accountId is missing")
	}
	if len(req.Digest) == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidRequest, "digest is missing")
	}

	shard, err := d.keys.LoadServerShard(req.AccountID)
	if err != nil {
		return nil, err
	}
	st, out, err := d.engine.StartSign(shard, req.Digest)
	if err != nil {
		return nil, err
	}

	sess, err := d.sessions.Create(mpc.ProtocolSign, req.AccountID)
	if err != nil {
		return nil, err
	}
	sess.State = st
	sess.Round = st.Round()
	d.sessions.Update(sess)

	return startResponse{SessionID: sess.ID, Message: out, Status: mpc.StatusContinue}, nil
}

func (d *Dispatcher) handleSignStep(ctx context.Context, body json.RawMessage) (any, error) {
	var req stepRequest
	if err := decodeInto(body, &req); err != nil {
		return nil, err
	}
	sess, err := d.getSession(req.SessionID, mpc.ProtocolSign)
	if err != nil {
		return nil, err
	}

	sess.Lock()
	defer sess.Unlock()
	if _, ok := d.sessions.Get(sess.ID); !ok {
		return nil, apperrors.New(apperrors.CodeInvalidSession, "unknown or expired session")
	}

	res, err := d.engine.StepSign(sess.State, req.Message)
	if err != nil {
		return nil, err
	}
	if res.Status == mpc.StatusContinue {
		sess.State = res.State
		sess.Round = res.State.Round()
		d.sessions.Update(sess)
		return signStepResponse{Status: mpc.StatusContinue}, nil
	}

	d.sessions.Delete(sess.ID)
	metrics.SignaturesTotal.Inc()

	// Best-effort: a failed touch must not fail the signing response.
	if err := d.keys.TouchLastUsed(sess.AccountID, time.Now().UTC()); err != nil {
		d.logger.Warn().Err(err).Str("account_id", sess.AccountID).
			Msg("failed to update last-used timestamp")
	}
	return signStepResponse{
		Status:        mpc.StatusDone,
		ServerPartial: res.Signing.ServerPartial,
	}, nil
}

func (d *Dispatcher) handleRecoverStart(_ context.Context, body json.RawMessage) (any, error) {
	var req recoverStartRequest
	if err := decodeInto(body, &req); err != nil {
		return nil, err
	}
	if req.AccountID == "" {
		return nil, apperrors.New(apperrors.CodeInvalidRequest, "accountId is missing")
	}
	if len(req.Challenge) == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidRequest, "challenge is missing")
	}

	shard, err := d.keys.LoadServerShard(req.AccountID)
	if err != nil {
		return nil, err
	}
	res, err := d.engine.StartRecover(req.AccountID, shard, req.Challenge)
	if err != nil {
		return nil, err
	}
	// A failed verification is a terminal failure, never a silent
	// verified:false success.
	if !res.Recovery.Verified {
		return nil, apperrors.New(apperrors.CodeRecoveryFailed,
			"challenge does not match the stored shard")
	}
	return recoverResponse{
		Status:   mpc.StatusDone,
		Verified: true,
		Address:  res.Recovery.Address,
	}, nil
}

func (d *Dispatcher) handleRecoverStep(ctx context.Context, body json.RawMessage) (any, error) {
	var req stepRequest
	if err := decodeInto(body, &req); err != nil {
		return nil, err
	}
	sess, err := d.getSession(req.SessionID, mpc.ProtocolRecover)
	if err != nil {
		return nil, err
	}

	sess.Lock()
	defer sess.Unlock()
	if _, ok := d.sessions.Get(sess.ID); !ok {
		return nil, apperrors.New(apperrors.CodeInvalidSession, "unknown or expired session")
	}

	res, err := d.engine.StepRecover(sess.State, req.Message)
	if err != nil {
		return nil, err
	}
	d.sessions.Delete(sess.ID)
	if !res.Recovery.Verified {
		return nil, apperrors.New(apperrors.CodeRecoveryFailed,
			"challenge does not match the stored shard")
	}
	return recoverResponse{
		Status:   mpc.StatusDone,
		Verified: true,
		Address:  res.Recovery.Address,
	}, nil
}
