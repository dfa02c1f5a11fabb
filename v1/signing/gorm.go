package signing

import (
	"context"
	"time"

	"gorm.io/gorm"
)

const (
	defaultGormKeyTable  = "warden_signing_keys"
	defaultGormOpTimeout = 5 * time.Second
)

// gormKey is the internal model used to persist signing keys.
type gormKey struct {
	ID          string `gorm:"primaryKey;column:key_id"`
	Name        string `gorm:"column:name"`
	TenantID    string `gorm:"column:tenant_id;index"`
	Status      string `gorm:"column:status"`
	NotBefore   int64  `gorm:"column:not_before_ms"`
	NotAfter    int64  `gorm:"column:not_after_ms;index"`
	Certificate string `gorm:"column:certificate"`
	PrivateKey  string `gorm:"column:private_key"`
	Passphrase  string `gorm:"column:passphrase"`
}

// GormKeyStore implements KeyStore using a GORM backend.
type GormKeyStore struct {
	db        *gorm.DB
	tableName string
	timeout   time.Duration
}

// GormOption configures a GormKeyStore.
type GormOption func(*gormStoreOptions)

type gormStoreOptions struct {
	tableName string
	timeout   time.Duration
}

// WithGormTableName sets the table name for the GormKeyStore.
func WithGormTableName(name string) GormOption {
	return func(o *gormStoreOptions) {
		o.tableName = name
	}
}

// WithGormTimeout sets the operation timeout for GORM calls.
func WithGormTimeout(d time.Duration) GormOption {
	return func(o *gormStoreOptions) {
		o.timeout = d
	}
}

// NewGormKeyStore returns a new GormKeyStore using the provided GORM DB
// connection.
func NewGormKeyStore(db *gorm.DB, opts ...GormOption) *GormKeyStore {
	o := gormStoreOptions{
		tableName: defaultGormKeyTable,
		timeout:   defaultGormOpTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	// Ensure the table exists
	if !db.Migrator().HasTable(o.tableName) {
		_ = db.Table(o.tableName).AutoMigrate(&gormKey{})
	}

	return &GormKeyStore{db: db, tableName: o.tableName, timeout: o.timeout}
}

func toKeyRow(key Key) gormKey {
	return gormKey{
		ID:          key.ID,
		Name:        key.Name,
		TenantID:    key.TenantID,
		Status:      string(key.Status),
		NotBefore:   key.NotBefore,
		NotAfter:    key.NotAfter,
		Certificate: key.Certificate,
		PrivateKey:  key.PrivateKey,
		Passphrase:  key.Passphrase,
	}
}

func fromKeyRow(row gormKey) Key {
	return Key{
		ID:          row.ID,
		Name:        row.Name,
		TenantID:    row.TenantID,
		Status:      Status(row.Status),
		NotBefore:   row.NotBefore,
		NotAfter:    row.NotAfter,
		Certificate: row.Certificate,
		PrivateKey:  row.PrivateKey,
		Passphrase:  row.Passphrase,
	}
}

// KeysForTenant implements KeyStore.KeysForTenant.
func (s *GormKeyStore) KeysForTenant(ctx context.Context, tenantID string) ([]Key, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []gormKey
	err := s.db.WithContext(cctx).Table(s.tableName).
		Where("tenant_id = ?", tenantID).
		Order("not_after_ms desc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]Key, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromKeyRow(row))
	}
	return out, nil
}

// Create implements KeyStore.Create.
func (s *GormKeyStore) Create(ctx context.Context, key Key) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	row := toKeyRow(key)
	return s.db.WithContext(cctx).Table(s.tableName).Create(&row).Error
}
