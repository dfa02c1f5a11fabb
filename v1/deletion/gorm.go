package deletion

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	defaultGormRequestTable = "warden_deletion_requests"
	defaultGormOpTimeout    = 5 * time.Second
)

// gormRequest is the internal model used to persist deletion requests.
type gormRequest struct {
	MarkForDeleteID string `gorm:"primaryKey;column:mark_for_delete_id"`
	ObjectID        string `gorm:"column:object_id;index"`
	ObjectType      string `gorm:"column:object_type"`
	SubmittedAt     int64  `gorm:"column:submitted_date_ms;index"`
	StartedAt       *int64 `gorm:"column:started_date_ms"`
	CompletedAt     *int64 `gorm:"column:completed_date_ms"`
}

// GormStore implements Store using a GORM backend.
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
		tableName: defaultGormRequestTable,
		timeout:   defaultGormOpTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	// Ensure the table exists
	if !db.Migrator().HasTable(o.tableName) {
		_ = db.Table(o.tableName).AutoMigrate(&gormRequest{})
	}

	return &GormStore{db: db, tableName: o.tableName, timeout: o.timeout}
}

func toRow(req Request) gormRequest {
	return gormRequest{
		MarkForDeleteID: req.MarkForDeleteID,
		ObjectID:        req.ObjectID,
		ObjectType:      string(req.ObjectType),
		SubmittedAt:     req.SubmittedAt,
		StartedAt:       req.StartedAt,
		CompletedAt:     req.CompletedAt,
	}
}

func fromRow(row gormRequest) Request {
	return Request{
		MarkForDeleteID: row.MarkForDeleteID,
		ObjectID:        row.ObjectID,
		ObjectType:      ObjectType(row.ObjectType),
		SubmittedAt:     row.SubmittedAt,
		StartedAt:       row.StartedAt,
		CompletedAt:     row.CompletedAt,
	}
}

// Create implements Store.Create.
func (s *GormStore) Create(ctx context.Context, req Request) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	row := toRow(req)
	return s.db.WithContext(cctx).Table(s.tableName).Create(&row).Error
}

// Get implements Store.Get.
func (s *GormStore) Get(ctx context.Context, id string) (Request, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var row gormRequest
	err := s.db.WithContext(cctx).Table(s.tableName).
		First(&row, "mark_for_delete_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Request{}, ErrNotFound
	}
	if err != nil {
		return Request{}, err
	}
	return fromRow(row), nil
}

// Update implements Store.Update.
func (s *GormStore) Update(ctx context.Context, req Request) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	row := toRow(req)
	res := s.db.WithContext(cctx).Table(s.tableName).
		Where("mark_for_delete_id = ?", req.MarkForDeleteID).
		Select("object_id", "object_type", "submitted_date_ms", "started_date_ms", "completed_date_ms").
		Updates(&row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete implements Store.Delete.
func (s *GormStore) Delete(ctx context.Context, id string) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.db.WithContext(cctx).Table(s.tableName).
		Where("mark_for_delete_id = ?", id).
		Delete(&gormRequest{}).Error
}

// ListOldestSubmitted implements Store.ListOldestSubmitted.
func (s *GormStore) ListOldestSubmitted(ctx context.Context, limit int) ([]Request, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	q := s.db.WithContext(cctx).Table(s.tableName).
		Order("submitted_date_ms asc").Order("mark_for_delete_id asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []gormRequest
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Request, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out, nil
}

// ListAll implements Store.ListAll.
func (s *GormStore) ListAll(ctx context.Context) ([]Request, error) {
	return s.ListOldestSubmitted(ctx, 0)
}
