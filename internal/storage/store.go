package storage

import (
	"context"
	"errors"

	"github.com/dennisdiepolder/dispatchdesk/internal/types"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

// OrderStore covers the two record tables the console works against
type OrderStore interface {
	ListPlacedOrders(ctx context.Context, adminID int64, status types.OrderStatus) ([]types.PlacedOrderRow, error)
	FindPlacedOrder(ctx context.Context, orderID string) (*types.PlacedOrderRow, error)
	SetPlacedOrderStatus(ctx context.Context, orderID string, status types.OrderStatus) error
	ListDispatchRecords(ctx context.Context, adminID int64, status types.OrderStatus) ([]types.DispatchRecord, error)
	GetDispatchRecord(ctx context.Context, orderID string) (*types.DispatchRecord, error)
	InsertDispatchRecord(ctx context.Context, rec *types.DispatchRecord) error
	UpdateDispatchRecord(ctx context.Context, rec *types.DispatchRecord) error
	SetDispatchStatus(ctx context.Context, orderID string, status types.OrderStatus) error

	// Subscribe delivers change notifications for table rows owned by adminID
	// until ctx is cancelled, then closes the channel.
	Subscribe(ctx context.Context, table types.Table, adminID int64) (<-chan types.ChangeEvent, error)
}

// DirectoryStore resolves subscribers, addresses and servicemen
type DirectoryStore interface {
	FindMemberByPhone(ctx context.Context, phone string) (*types.Member, error)
	GetMember(ctx context.Context, memberID string) (*types.Member, error)
	GetAllowedNumber(ctx context.Context, memberID string) (string, error)
	GetUser(ctx context.Context, userID string) (*types.User, error)
	GetAddress(ctx context.Context, addressID string) (*types.Address, error)
	ListAddresses(ctx context.Context, memberID string) ([]types.Address, error)
	ListAvailableServicemen(ctx context.Context, category string) ([]types.Serviceman, error)
}

// AgentStore holds agent registrations and mirrored presence
type AgentStore interface {
	SetAgentStatus(ctx context.Context, firebaseUID string, status types.PresenceStatus) error
	GetAdminID(ctx context.Context, firebaseUID string) (int64, error)
	RegisterAgent(ctx context.Context, agent types.Agent) error
}

// Store defines the record store interface
type Store interface {
	OrderStore
	DirectoryStore
	AgentStore
	Close() error
}

// NewStore creates the appropriate store based on configuration
func NewStore(ctx context.Context, databaseURL string, logger zerolog.Logger) (Store, error) {
	if databaseURL == "" {
		logger.Info().Msg("record store running in memory (DATABASE_URL not set)")
		return NewMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL, logger)
}
