package export

import (
	"context"
	"fmt"
	"sync"

	"github.com/23skdu/longbow-spyglass/internal/device"
)

// StoredMatrix is one matrix held by the mock client.
type StoredMatrix struct {
	Rows     [][]float32
	Metadata map[string]string
}

// MockClient is an in-memory Client for tests.
type MockClient struct {
	mu        sync.RWMutex
	connected bool
	matrices  map[string]*StoredMatrix
}

func NewMockClient() *MockClient {
	return &MockClient{
		matrices: make(map[string]*StoredMatrix),
	}
}

func (m *MockClient) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *MockClient) PublishMatrix(ctx context.Context, name string, t *device.Tensor, md map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return fmt.Errorf("client not connected")
	}
	if t.Rank() != 2 {
		return fmt.Errorf("publish %s: rank-2 tensor required, got dims %v", name, t.Dims())
	}

	rows := make([][]float32, t.Dim(0))
	for i := range rows {
		rows[i] = append([]float32(nil), t.Row(i)...)
	}
	meta := make(map[string]string, len(md))
	for k, v := range md {
		meta[k] = v
	}

	m.matrices[name] = &StoredMatrix{Rows: rows, Metadata: meta}
	return nil
}

// Stored returns the matrix published under name, or nil.
func (m *MockClient) Stored(name string) *StoredMatrix {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.matrices[name]
}

// Reset clears all stored matrices.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matrices = make(map[string]*StoredMatrix)
}
