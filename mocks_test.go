package identity_test

import (
	"context"

	identity "github.com/goliatone/go-identity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockStatusWriter implements identity.StatusWriter
type MockStatusWriter struct {
	mock.Mock
}

func (m *MockStatusWriter) UpdateStatus(ctx context.Context, id uuid.UUID, status identity.AccountStatus, opts ...identity.StatusUpdateOption) (*identity.User, error) {
	args := m.Called(ctx, id, status, opts)
	user, _ := args.Get(0).(*identity.User)
	return user, args.Error(1)
}

// MockActivitySink implements identity.ActivitySink
type MockActivitySink struct {
	mock.Mock
}

func (m *MockActivitySink) Record(ctx context.Context, event identity.ActivityEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}
