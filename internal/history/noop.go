package history

import (
	"context"

	"github.com/dennisdiepolder/dispatchdesk/internal/types"
)

// Store records finished console sessions and presence transitions
type Store interface {
	SaveSession(ctx context.Context, record types.CallSessionRecord) error
	SavePresence(ctx context.Context, record types.PresenceRecord) error
	GetSessions(ctx context.Context, dateKey string) ([]types.CallSessionRecord, error)
	GetAgentSessionsByDate(ctx context.Context, agentID, date string) ([]types.CallSessionRecord, error)
	GetPresence(ctx context.Context, agentID string) ([]types.PresenceRecord, error)
	TruncateAll(ctx context.Context) error
}

// NoopStore is a no-op implementation when DynamoDB is disabled
type NoopStore struct{}

func NewNoopStore() *NoopStore { return &NoopStore{} }

func (s *NoopStore) SaveSession(_ context.Context, _ types.CallSessionRecord) error { return nil }
func (s *NoopStore) SavePresence(_ context.Context, _ types.PresenceRecord) error   { return nil }
func (s *NoopStore) GetSessions(_ context.Context, _ string) ([]types.CallSessionRecord, error) {
	return nil, nil
}
func (s *NoopStore) GetAgentSessionsByDate(_ context.Context, _, _ string) ([]types.CallSessionRecord, error) {
	return nil, nil
}
func (s *NoopStore) GetPresence(_ context.Context, _ string) ([]types.PresenceRecord, error) {
	return nil, nil
}
func (s *NoopStore) TruncateAll(_ context.Context) error { return nil }
