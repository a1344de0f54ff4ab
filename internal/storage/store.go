package storage

import (
	"context"
	"errors"

	"carcare/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// RecordStore persists diagnostic records. Records are only ever created and
// listed; there is no update or delete.
type RecordStore interface {
	CreateRecord(ctx context.Context, rec *models.DiagnosticRecord) error
	// ListRecordsByUser returns the user's records, most recent first.
	ListRecordsByUser(ctx context.Context, userID string) ([]models.DiagnosticRecord, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	ListMechanics(ctx context.Context) ([]models.User, error)
}

// Store is implemented by every backend.
type Store interface {
	RecordStore
	UserStore
	Ping(ctx context.Context) error
	Close() error
}
