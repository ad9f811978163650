package publish

import (
	"context"
	"sync"
)

// MockPublisher records published messages and fails with queued errors.
type MockPublisher struct {
	mu     sync.Mutex
	errs   []error
	Calls  int
	Sent   []Message
	Closed bool
}

// NewMockPublisher returns a MockPublisher whose first calls fail with errs
// in order; a nil entry succeeds.
func NewMockPublisher(errs ...error) *MockPublisher {
	return &MockPublisher{errs: errs}
}

func (m *MockPublisher) Publish(_ context.Context, msgs ...Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return err
		}
	}
	m.Sent = append(m.Sent, msgs...)
	return nil
}

func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}
