package lock

import (
	"context"
	"time"

	"gorm.io/gorm"
)

const (
	defaultGormLeaseTable = "warden_lease_records"
	defaultGormOpTimeout  = 5 * time.Second
)

// gormLease is the internal model used to persist lease records. The
// autoincrement id gives ListByName a stable insertion-sequence tie-break
// for records created in the same millisecond.
type gormLease struct {
	ID             uint64 `gorm:"primaryKey;autoIncrement"`
	LockName       string `gorm:"column:lock_name;index"`
	LockInstanceID string `gorm:"column:lock_instance_id;uniqueIndex"`
	LockStartTime  int64  `gorm:"column:lock_start_time_ms"`
	LockExpiresAt  int64  `gorm:"column:lock_expires_at_ms;index"`
}

// GormStore implements Store using a GORM backend. Relational backends have
// no native TTL; deployments must schedule SweepExpired on the Manager.
type GormStore struct {
	db        *gorm.DB
	tableName string
	timeout   time.Duration
}

// GormOption configures a GormStore.
type GormOption func(*gormStoreOptions)

type gormStoreOptions struct {
	tableName string
	timeout   time.Duration
}

// WithGormTableName sets the table name for the GormStore.
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

// NewGormStore returns a new GormStore using the provided GORM DB connection.
func NewGormStore(db *gorm.DB, opts ...GormOption) *GormStore {
	o := gormStoreOptions{
		tableName: defaultGormLeaseTable,
		timeout:   defaultGormOpTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	// Ensure the table exists
	if !db.Migrator().HasTable(o.tableName) {
		_ = db.Table(o.tableName).AutoMigrate(&gormLease{})
	}

	return &GormStore{db: db, tableName: o.tableName, timeout: o.timeout}
}

// Insert implements Store.Insert.
func (s *GormStore) Insert(ctx context.Context, rec Record) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	row := gormLease{
		LockName:       rec.LockName,
		LockInstanceID: rec.LockInstanceID,
		LockStartTime:  rec.LockStartTime,
		LockExpiresAt:  rec.LockExpiresAt,
	}
	return s.db.WithContext(cctx).Table(s.tableName).Create(&row).Error
}

// ListByName implements Store.ListByName.
func (s *GormStore) ListByName(ctx context.Context, name string) ([]Record, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []gormLease
	err := s.db.WithContext(cctx).Table(s.tableName).
		Where("lock_name = ?", name).
		Order("lock_start_time_ms asc").Order("id asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, Record{
			LockName:       row.LockName,
			LockInstanceID: row.LockInstanceID,
			LockStartTime:  row.LockStartTime,
			LockExpiresAt:  row.LockExpiresAt,
		})
	}
	return out, nil
}

// DeleteByInstance implements Store.DeleteByInstance.
func (s *GormStore) DeleteByInstance(ctx context.Context, name, instanceID string) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.db.WithContext(cctx).Table(s.tableName).
		Where("lock_name = ? AND lock_instance_id = ?", name, instanceID).
		Delete(&gormLease{}).Error
}

// DeleteExpired implements Store.DeleteExpired.
func (s *GormStore) DeleteExpired(ctx context.Context, now int64) (int, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res := s.db.WithContext(cctx).Table(s.tableName).
		Where("lock_expires_at_ms <= ?", now).
		Delete(&gormLease{})
	return int(res.RowsAffected), res.Error
}
