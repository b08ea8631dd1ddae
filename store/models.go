// Package store contains the GORM-backed models persisted by the keystore's
// file backend. Account metadata is explicitly non-secret and stored in the
// clear; server shards never go through this package.
package store

import (
	"time"

	"gorm.io/gorm"
)

// Account is the durable record of a completed key generation. One row
// exists if and only if a sealed server shard exists for the same AccountID.
type Account struct {
	gorm.Model
	AccountID  string `gorm:"uniqueIndex;not null"` // Opaque identifier minted at DKG completion
	Address    string `gorm:"index;not null"`       // Canonical identifier derived from the combined public key
	PublicKey  []byte `gorm:"not null"`             // Combined public key, uncompressed
	Label      string // Optional user-supplied name
	LastUsedAt time.Time
}

// TableName keeps the table name stable across model renames.
func (Account) TableName() string {
	return "accounts"
}
