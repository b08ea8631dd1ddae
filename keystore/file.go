package keystore

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/twoshard/enclave-signer/db"
	apperrors "github.com/twoshard/enclave-signer/errors"
	"github.com/twoshard/enclave-signer/store"
)

const (
	shardsDirName   = "shards"
	metadataDBName  = "accounts.db"
	shardFilePerms  = 0o600
	keystoreDirPerm = 0o700
)

// File is the durable Store: shards as individually sealed files, account
// metadata in SQLite. Shard and metadata writes are two independent I/O
// operations, not one transaction; the dispatcher's write ordering makes a
// crash between them recoverable.
type File struct {
	shardsDir string
	unsealer  Unsealer
	database  *db.DB
	logger    zerolog.Logger
}

// NewFile opens (or initializes) a file keystore rooted at dir.
func NewFile(dir string, unsealer Unsealer, logger zerolog.Logger) (*File, error) {
	if dir == "" {
		return nil, apperrors.New(apperrors.CodeKeystore, "keystore directory is empty")
	}
	shardsDir := filepath.Join(dir, shardsDirName)
	if err := os.MkdirAll(shardsDir, keystoreDirPerm); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeKeystore, "creating shards directory")
	}

	database, err := db.OpenFileDB(dir, metadataDBName)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeKeystore, "opening metadata database")
	}

	return &File{
		shardsDir: shardsDir,
		unsealer:  unsealer,
		database:  database,
		logger:    logger.With().Str("component", "keystore").Logger(),
	}, nil
}

func (f *File) PersistServerShard(accountID string, shard []byte) error {
	if err := validateAccountID(accountID); err != nil {
		return err
	}
	secret, err := f.unsealer.SealingSecret()
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeKeystore, "obtaining sealing secret")
	}
	sealed, err := seal(secret, shard)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeKeystore, "sealing shard")
	}
	path := filepath.Join(f.shardsDir, accountID)
	if err := os.WriteFile(path, sealed, shardFilePerms); err != nil {
		return apperrors.Wrap(err, apperrors.CodeKeystore, "writing shard file")
	}
	return nil
}

func (f *File) LoadServerShard(accountID string) ([]byte, error) {
	if err := validateAccountID(accountID); err != nil {
		return nil, err
	}
	sealed, err := os.ReadFile(filepath.Join(f.shardsDir, accountID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperrors.Newf(apperrors.CodeAccountNotFound, "no shard for account %s", accountID)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeKeystore, "reading shard file")
	}
	secret, err := f.unsealer.SealingSecret()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeKeystore, "obtaining sealing secret")
	}
	shard, err := unseal(secret, sealed)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeKeystore, "unsealing shard")
	}
	return shard, nil
}

func (f *File) Has(accountID string) (bool, error) {
	if err := validateAccountID(accountID); err != nil {
		return false, err
	}
	_, err := os.Stat(filepath.Join(f.shardsDir, accountID))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.CodeKeystore, "checking shard file")
	}
	return true, nil
}

func (f *File) PersistAccountMetadata(md *Metadata) error {
	if err := validateAccountID(md.AccountID); err != nil {
		return err
	}
	record := store.Account{
		AccountID:  md.AccountID,
		Address:    md.Address,
		PublicKey:  md.PublicKey,
		Label:      md.Label,
		LastUsedAt: md.LastUsedAt,
	}
	if err := f.database.Client().Create(&record).Error; err != nil {
		return apperrors.Wrap(err, apperrors.CodeKeystore, "persisting account metadata")
	}
	return nil
}

func (f *File) LoadAccountMetadata(accountID string) (*Metadata, error) {
	if err := validateAccountID(accountID); err != nil {
		return nil, err
	}
	var record store.Account
	err := f.database.Client().Where("account_id = ?", accountID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.Newf(apperrors.CodeAccountNotFound, "no account %s", accountID)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeKeystore, "loading account metadata")
	}
	return &Metadata{
		AccountID:  record.AccountID,
		Address:    record.Address,
		PublicKey:  record.PublicKey,
		Label:      record.Label,
		CreatedAt:  record.CreatedAt,
		LastUsedAt: record.LastUsedAt,
	}, nil
}

func (f *File) TouchLastUsed(accountID string, t time.Time) error {
	if err := validateAccountID(accountID); err != nil {
		return err
	}
	res := f.database.Client().
		Model(&store.Account{}).
		Where("account_id = ?", accountID).
		Update("last_used_at", t)
	if res.Error != nil {
		return apperrors.Wrap(res.Error, apperrors.CodeKeystore, "updating last-used timestamp")
	}
	if res.RowsAffected == 0 {
		return apperrors.Newf(apperrors.CodeAccountNotFound, "no account %s", accountID)
	}
	return nil
}

// ListAccounts enumerates accounts for operational visibility. Individually
// corrupted rows are skipped and logged, never fatal to the listing.
func (f *File) ListAccounts() ([]AccountInfo, error) {
	var records []store.Account
	if err := f.database.Client().Find(&records).Error; err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeKeystore, "listing accounts")
	}

	out := make([]AccountInfo, 0, len(records))
	for _, record := range records {
		if record.AccountID == "" || record.Address == "" || validateAccountID(record.AccountID) != nil {
			f.logger.Warn().Uint("row_id", record.ID).Msg("skipping corrupted account entry")
			continue
		}
		out = append(out, AccountInfo{AccountID: record.AccountID, Address: record.Address})
	}
	return out, nil
}

func (f *File) Mode() string { return "file" }

func (f *File) Close() error {
	return f.database.Close()
}
