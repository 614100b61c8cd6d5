package engram

import (
	"fmt"
	"sync"
)

// MockFileReader is an in-memory FileReader for tests.
type MockFileReader struct {
	mu    sync.RWMutex
	files map[string][]byte
	err   error
}

// NewMockFileReader creates an empty mock file reader.
func NewMockFileReader() *MockFileReader {
	return &MockFileReader{files: make(map[string][]byte)}
}

// ReadFile implements FileReader.
func (m *MockFileReader) ReadFile(path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.err != nil {
		return nil, m.err
	}
	data, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", path)
	}
	return data, nil
}

// AddFile registers a file in the mock filesystem.
func (m *MockFileReader) AddFile(path string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = content
}

// SetError makes every subsequent ReadFile return err.
func (m *MockFileReader) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
