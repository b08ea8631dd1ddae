package keystore

import (
	"sync"
	"time"

	apperrors "github.com/twoshard/enclave-signer/errors"
)

// Memory is a volatile Store for tests and mock-engine deployments. Nothing
// survives a restart.
type Memory struct {
	mu       sync.RWMutex
	shards   map[string][]byte
	accounts map[string]*Metadata
}

// NewMemory creates an empty in-memory keystore.
func NewMemory() *Memory {
	return &Memory{
		shards:   make(map[string][]byte),
		accounts: make(map[string]*Metadata),
	}
}

func (m *Memory) PersistServerShard(accountID string, shard []byte) error {
	if err := validateAccountID(accountID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shards[accountID] = append([]byte(nil), shard...)
	return nil
}

func (m *Memory) LoadServerShard(accountID string) ([]byte, error) {
	if err := validateAccountID(accountID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	shard, ok := m.shards[accountID]
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeAccountNotFound, "no shard for account %s", accountID)
	}
	return append([]byte(nil), shard...), nil
}

func (m *Memory) Has(accountID string) (bool, error) {
	if err := validateAccountID(accountID); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.shards[accountID]
	return ok, nil
}

func (m *Memory) PersistAccountMetadata(md *Metadata) error {
	if err := validateAccountID(md.AccountID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *md
	m.accounts[md.AccountID] = &copied
	return nil
}

func (m *Memory) LoadAccountMetadata(accountID string) (*Metadata, error) {
	if err := validateAccountID(accountID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	md, ok := m.accounts[accountID]
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeAccountNotFound, "no account %s", accountID)
	}
	copied := *md
	return &copied, nil
}

func (m *Memory) TouchLastUsed(accountID string, t time.Time) error {
	if err := validateAccountID(accountID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	md, ok := m.accounts[accountID]
	if !ok {
		return apperrors.Newf(apperrors.CodeAccountNotFound, "no account %s", accountID)
	}
	md.LastUsedAt = t
	return nil
}

func (m *Memory) ListAccounts() ([]AccountInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AccountInfo, 0, len(m.accounts))
	for _, md := range m.accounts {
		out = append(out, AccountInfo{AccountID: md.AccountID, Address: md.Address})
	}
	return out, nil
}

func (m *Memory) Mode() string { return "memory" }

func (m *Memory) Close() error { return nil }
