package mocks

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/storyloom/storyloom-api/internal/domain"
	"github.com/storyloom/storyloom-api/internal/store"
	"github.com/stretchr/testify/mock"
)

// TestifyMockRunStore is a mock of store.RunStore interface for use with testify/mock
type TestifyMockRunStore struct {
	mock.Mock
}

// Create is a mock implementation of store.RunStore.Create
func (m *TestifyMockRunStore) Create(ctx context.Context, run *domain.EnhancementRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

// GetByID is a mock implementation of store.RunStore.GetByID
func (m *TestifyMockRunStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.EnhancementRun, error) {
	args := m.Called(ctx, id)
	if run, ok := args.Get(0).(*domain.EnhancementRun); ok {
		return run, args.Error(1)
	}
	return nil, args.Error(1)
}

// UpdateStatus is a mock implementation of store.RunStore.UpdateStatus
func (m *TestifyMockRunStore) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	status domain.RunStatus,
	runErr string,
) error {
	args := m.Called(ctx, id, status, runErr)
	return args.Error(0)
}

// WithTx is a mock implementation of store.RunStore.WithTx
func (m *TestifyMockRunStore) WithTx(tx *sql.Tx) store.RunStore {
	args := m.Called(tx)
	if ret, ok := args.Get(0).(store.RunStore); ok {
		return ret
	}
	return m
}

// TestifyMockSceneStore is a mock of store.SceneStore interface for use with testify/mock
type TestifyMockSceneStore struct {
	mock.Mock
}

// InsertScenes is a mock implementation of store.SceneStore.InsertScenes
func (m *TestifyMockSceneStore) InsertScenes(ctx context.Context, scenes []*domain.Scene) error {
	args := m.Called(ctx, scenes)
	return args.Error(0)
}

// GetByID is a mock implementation of store.SceneStore.GetByID
func (m *TestifyMockSceneStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Scene, error) {
	args := m.Called(ctx, id)
	if scene, ok := args.Get(0).(*domain.Scene); ok {
		return scene, args.Error(1)
	}
	return nil, args.Error(1)
}

// GetByRunIdx is a mock implementation of store.SceneStore.GetByRunIdx
func (m *TestifyMockSceneStore) GetByRunIdx(ctx context.Context, runID uuid.UUID, idx int) (*domain.Scene, error) {
	args := m.Called(ctx, runID, idx)
	if scene, ok := args.Get(0).(*domain.Scene); ok {
		return scene, args.Error(1)
	}
	return nil, args.Error(1)
}

// ListByRun is a mock implementation of store.SceneStore.ListByRun
func (m *TestifyMockSceneStore) ListByRun(ctx context.Context, runID uuid.UUID) ([]*domain.Scene, error) {
	args := m.Called(ctx, runID)
	if scenes, ok := args.Get(0).([]*domain.Scene); ok {
		return scenes, args.Error(1)
	}
	return nil, args.Error(1)
}

// UpdateStatus is a mock implementation of store.SceneStore.UpdateStatus
func (m *TestifyMockSceneStore) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.SceneStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

// WithTx is a mock implementation of store.SceneStore.WithTx
func (m *TestifyMockSceneStore) WithTx(tx *sql.Tx) store.SceneStore {
	args := m.Called(tx)
	if ret, ok := args.Get(0).(store.SceneStore); ok {
		return ret
	}
	return m
}
