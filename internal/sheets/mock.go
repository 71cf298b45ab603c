package sheets

import (
	"context"
	"sync"

	"github.com/nestegg-fi/nestegg/internal/model"
	"github.com/nestegg-fi/nestegg/internal/service"
)

var _ service.SnapshotExporter = (*MockExporter)(nil)

// MockExporter is a mock implementation of SnapshotExporter for testing.
type MockExporter struct {
	ExportFunc      func(ctx context.Context, userID string, accounts []model.Account, snapshots []model.NetWorthSnapshot) error
	ExportCalls     []ExportCall
	ExportCallCount int
	mu              sync.Mutex
}

// ExportCall represents a single call to Export.
type ExportCall struct {
	Error     error
	UserID    string
	Accounts  []model.Account
	Snapshots []model.NetWorthSnapshot
}

// NewMockExporter creates a new mock exporter.
func NewMockExporter() *MockExporter {
	return &MockExporter{
		ExportCalls: make([]ExportCall, 0),
	}
}

// Export implements the SnapshotExporter interface.
func (m *MockExporter) Export(ctx context.Context, userID string, accounts []model.Account, snapshots []model.NetWorthSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ExportCallCount++

	var err error
	if m.ExportFunc != nil {
		err = m.ExportFunc(ctx, userID, accounts, snapshots)
	}

	m.ExportCalls = append(m.ExportCalls, ExportCall{
		UserID:    userID,
		Accounts:  accounts,
		Snapshots: snapshots,
		Error:     err,
	})

	return err
}

// Reset clears all recorded calls.
func (m *MockExporter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ExportCallCount = 0
	m.ExportCalls = make([]ExportCall, 0)
}
