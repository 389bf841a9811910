package tenant

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/meridianhq/telemetry-backend/internal/shared"
)

const prefixLen = 12

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&IngestKey{})
}

// Create mints a key and returns the plaintext secret exactly once.
func (s *Store) Create(ctx context.Context, key *IngestKey) (secret string, err error) {
	if key.ID == "" {
		key.ID = shared.NewID("key_")
	}

	secret, err = generateSecret()
	if err != nil {
		return "", err
	}

	key.Prefix = secret[:prefixLen]
	key.SecretHash = hashSecret(secret)

	if err := s.db.WithContext(ctx).Create(key).Error; err != nil {
		return "", err
	}
	return secret, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*IngestKey, error) {
	var key IngestKey
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	return &key, err
}

func (s *Store) ListByTenant(ctx context.Context, tenantID string) ([]*IngestKey, error) {
	var keys []*IngestKey
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Find(&keys).Error
	return keys, err
}

// Validate resolves a presented secret to its key. Lookup is by prefix so the
// stored hash is never scanned.
func (s *Store) Validate(ctx context.Context, secret string) (*IngestKey, error) {
	if len(secret) < prefixLen {
		return nil, shared.ErrNotFound
	}

	var key IngestKey
	err := s.db.WithContext(ctx).Where("prefix = ?", secret[:prefixLen]).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if key.SecretHash != hashSecret(secret) {
		return nil, shared.ErrNotFound
	}
	if key.IsExpired() {
		return nil, shared.ErrUnauthorized
	}

	go s.updateLastUsed(key.ID)

	return &key, nil
}

func (s *Store) Revoke(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&IngestKey{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (s *Store) updateLastUsed(id string) {
	s.db.Model(&IngestKey{}).Where("id = ?", id).Update("last_used_at", time.Now())
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "mk-" + hex.EncodeToString(b), nil
}

func hashSecret(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:])
}
