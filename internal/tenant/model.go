package tenant

import "time"

// IngestKey authorizes event submission for exactly one tenant. The secret is
// shown once at creation; only its hash is stored.
type IngestKey struct {
	ID         string     `gorm:"primaryKey" json:"id"`
	TenantID   string     `gorm:"not null;index" json:"tenant_id"`
	Name       string     `gorm:"not null" json:"name"`
	Prefix     string     `gorm:"uniqueIndex;not null" json:"-"`
	SecretHash string     `gorm:"not null" json:"-"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (k *IngestKey) IsExpired() bool {
	if k.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*k.ExpiresAt)
}
