// Package testutil provides testing utilities and helpers for bridge tests.
package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/GriffinCanCode/envbridge/internal/bridge/errs"
	"github.com/GriffinCanCode/envbridge/internal/transport"
)

// MockTransport is a mock implementation of transport.Transport for testing.
// Subscribe is not mocked; the listener is kept so tests can Deliver to it.
type MockTransport struct {
	mock.Mock

	mu       sync.Mutex
	listener transport.Listener
	posted   [][]byte
}

var _ transport.Transport = (*MockTransport)(nil)

// Post mocks the Post method and records the posted bytes.
func (m *MockTransport) Post(ctx context.Context, target string, data []byte) error {
	m.mu.Lock()
	m.posted = append(m.posted, append([]byte(nil), data...))
	m.mu.Unlock()

	args := m.Called(ctx, target, data)
	return args.Error(0)
}

// Subscribe stores the listener.
func (m *MockTransport) Subscribe(l transport.Listener) func() {
	m.mu.Lock()
	m.listener = l
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.listener = nil
		m.mu.Unlock()
	}
}

// Deliver hands in to the listener synchronously. It reports false when no
// listener is subscribed.
func (m *MockTransport) Deliver(in transport.Inbound) bool {
	m.mu.Lock()
	l := m.listener
	m.mu.Unlock()
	if l == nil {
		return false
	}
	l(in)
	return true
}

// Posted returns copies of everything passed to Post, in order.
func (m *MockTransport) Posted() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.posted))
	copy(out, m.posted)
	return out
}

// NewMockTransport creates a mock transport whose Post succeeds by default.
func NewMockTransport(t *testing.T) *MockTransport {
	t.Helper()
	m := new(MockTransport)

	// Default behavior: every post succeeds
	m.On("Post", mock.Anything, mock.Anything, mock.Anything).
		Return(nil).
		Maybe()

	return m
}

// NewFailingTransport creates a mock transport whose Post always fails with err.
func NewFailingTransport(t *testing.T, err error) *MockTransport {
	t.Helper()
	m := new(MockTransport)
	m.On("Post", mock.Anything, mock.Anything, mock.Anything).Return(err)
	return m
}

// AssertKind is a helper to assert err is a bridge error of kind.
func AssertKind(t *testing.T, err error, kind errs.Kind) *errs.Error {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected %s error, got nil", kind)
	}
	var be *errs.Error
	if !errors.As(err, &be) {
		t.Fatalf("Expected bridge error, got %T: %v", err, err)
	}
	if be.Kind != kind {
		t.Fatalf("Expected kind %s, got %s: %v", kind, be.Kind, err)
	}
	return be
}

// MustJSON marshals v or fails the test.
func MustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to marshal %T: %v", v, err)
	}
	return data
}

// DecodeJSON unmarshals data into a generic map or fails the test.
func DecodeJSON(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Failed to unmarshal %q: %v", data, err)
	}
	return out
}
