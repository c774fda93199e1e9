package mocks

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/storyloom/storyloom-api/internal/domain"
	"github.com/storyloom/storyloom-api/internal/store"
	"github.com/stretchr/testify/mock"
)

// TestifyMockImageStore is a mock of store.ImageStore interface for use with testify/mock
type TestifyMockImageStore struct {
	mock.Mock
}

// NextAttempt is a mock implementation of store.ImageStore.NextAttempt
func (m *TestifyMockImageStore) NextAttempt(ctx context.Context, sceneID uuid.UUID) (int, error) {
	args := m.Called(ctx, sceneID)
	return args.Int(0), args.Error(1)
}

// Create is a mock implementation of store.ImageStore.Create
func (m *TestifyMockImageStore) Create(ctx context.Context, img *domain.ImageAttempt) error {
	args := m.Called(ctx, img)
	return args.Error(0)
}

// Finalize is a mock implementation of store.ImageStore.Finalize
func (m *TestifyMockImageStore) Finalize(
	ctx context.Context,
	id uuid.UUID,
	storagePath, format string,
	width, height int,
) error {
	args := m.Called(ctx, id, storagePath, format, width, height)
	return args.Error(0)
}

// MarkFailed is a mock implementation of store.ImageStore.MarkFailed
func (m *TestifyMockImageStore) MarkFailed(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// SetCurrentImage is a mock implementation of store.ImageStore.SetCurrentImage
func (m *TestifyMockImageStore) SetCurrentImage(ctx context.Context, sceneID, imageID uuid.UUID) error {
	args := m.Called(ctx, sceneID, imageID)
	return args.Error(0)
}

// GetCurrentImage is a mock implementation of store.ImageStore.GetCurrentImage
func (m *TestifyMockImageStore) GetCurrentImage(ctx context.Context, sceneID uuid.UUID) (*domain.CurrentImagePointer, error) {
	args := m.Called(ctx, sceneID)
	if ptr, ok := args.Get(0).(*domain.CurrentImagePointer); ok {
		return ptr, args.Error(1)
	}
	return nil, args.Error(1)
}

// CurrentImagesByRun is a mock implementation of store.ImageStore.CurrentImagesByRun
func (m *TestifyMockImageStore) CurrentImagesByRun(ctx context.Context, runID uuid.UUID) (map[uuid.UUID]uuid.UUID, error) {
	args := m.Called(ctx, runID)
	if pointers, ok := args.Get(0).(map[uuid.UUID]uuid.UUID); ok {
		return pointers, args.Error(1)
	}
	return nil, args.Error(1)
}

// WithTx is a mock implementation of store.ImageStore.WithTx
func (m *TestifyMockImageStore) WithTx(tx *sql.Tx) store.ImageStore {
	args := m.Called(tx)
	if ret, ok := args.Get(0).(store.ImageStore); ok {
		return ret
	}
	return m
}
