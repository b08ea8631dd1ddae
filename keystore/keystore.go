// Package keystore persists server shards and account metadata behind a
// backend-agnostic contract. Shards are sealed at rest; metadata is
// explicitly non-secret and may be stored in the clear.
package keystore

import (
	"strings"
	"time"

	apperrors "github.com/twoshard/enclave-signer/errors"
)

// Metadata is the durable, non-secret record of a completed key generation.
type Metadata struct {
	AccountID  string
	Address    string
	PublicKey  []byte
	Label      string
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// AccountInfo is the listing projection used for operational visibility.
type AccountInfo struct {
	AccountID string
	Address   string
}

// Store is the sealed keystore contract. An account exists if and only if a
// server shard exists for its identifier: the dispatcher persists the shard
// first and the metadata second, so a crash between the two leaves a shard
// without metadata (recoverable), never metadata without a shard.
type Store interface {
	// PersistServerShard seals and stores a server shard.
	PersistServerShard(accountID string, shard []byte) error
	// LoadServerShard unseals and returns a shard, or ACCOUNT_NOT_FOUND.
	LoadServerShard(accountID string) ([]byte, error)
	// Has reports whether a shard exists for the account.
	Has(accountID string) (bool, error)

	// PersistAccountMetadata stores the account record.
	PersistAccountMetadata(md *Metadata) error
	// LoadAccountMetadata returns the account record, or ACCOUNT_NOT_FOUND.
	LoadAccountMetadata(accountID string) (*Metadata, error)
	// TouchLastUsed updates the account's last-used timestamp.
	TouchLastUsed(accountID string, t time.Time) error

	// ListAccounts enumerates accounts, skipping individually corrupted
	// entries rather than failing the whole listing.
	ListAccounts() ([]AccountInfo, error)

	// Mode names the backend for health reporting.
	Mode() string
	Close() error
}

// validateAccountID rejects identifiers that could escape the storage
// namespace when joined into a key or path, regardless of backend.
func validateAccountID(accountID string) error {
	if accountID == "" {
		return apperrors.New(apperrors.CodeInvalidRequest, "account id is empty")
	}
	if strings.ContainsAny(accountID, "/\\") || strings.Contains(accountID, "..") {
		return apperrors.New(apperrors.CodeInvalidRequest, "account id contains invalid characters")
	}
	return nil
}
