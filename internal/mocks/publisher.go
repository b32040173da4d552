package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/queue"
)

// Compile-time check that MockPublisher implements queue.Publisher.
var _ queue.Publisher = (*MockPublisher)(nil)

// MockPublisher implements queue.Publisher and keeps every payload.
type MockPublisher struct {
	PublishFn func(ctx context.Context, payload []byte) error

	mu       sync.Mutex
	Payloads [][]byte
}

// Publish records payload and delegates to PublishFn.
func (m *MockPublisher) Publish(ctx context.Context, payload []byte) error {
	if m.PublishFn != nil {
		if err := m.PublishFn(ctx, payload); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.Payloads = append(m.Payloads, append([]byte(nil), payload...))
	m.mu.Unlock()
	return nil
}

// Messages decodes the recorded payloads, skipping invalid ones.
func (m *MockPublisher) Messages() []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Message, 0, len(m.Payloads))
	for _, p := range m.Payloads {
		if msg, _, err := domain.DecodeMessage(p); err == nil {
			out = append(out, msg)
		}
	}
	return out
}
