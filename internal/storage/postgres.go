package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dennisdiepolder/dispatchdesk/internal/types"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// PostgresStore implements Store on Postgres; change notifications arrive over LISTEN/NOTIFY
type PostgresStore struct {
	db       *sql.DB
	notifier *notifier
	logger   zerolog.Logger
}

// NewPostgresStore opens the database, applies migrations and starts the change listener
func NewPostgresStore(ctx context.Context, dsn string, logger zerolog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := applyMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	log := logger.With().Str("component", "postgres-store").Logger()
	n, err := newNotifier(dsn, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Msg("Postgres record store ready")

	return &PostgresStore{db: db, notifier: n, logger: log}, nil
}

// Close stops the listener and closes the pool
func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.notifier.Close()
	return s.db.Close()
}

// Subscribe registers for change notifications on table rows owned by adminID
func (s *PostgresStore) Subscribe(ctx context.Context, table types.Table, adminID int64) (<-chan types.ChangeEvent, error) {
	return s.notifier.feed.subscribe(ctx, table, adminID), nil
}

func (s *PostgresStore) ListPlacedOrders(ctx context.Context, adminID int64, status types.OrderStatus) ([]types.PlacedOrderRow, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT order_id, status, admin_id, member_id, user_id, address_id, service_category, work_description, created_at
FROM placed_orders
WHERE admin_id = $1 AND status = $2
ORDER BY created_at ASC
`, adminID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list placed orders: %w", err)
	}
	defer rows.Close()

	out := make([]types.PlacedOrderRow, 0)
	for rows.Next() {
		var row types.PlacedOrderRow
		var st string
		var memberID, userID, addressID sql.NullString
		if err := rows.Scan(&row.OrderID, &st, &row.AdminID, &memberID, &userID, &addressID,
			&row.ServiceCategory, &row.WorkDescription, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan placed order: %w", err)
		}
		row.Status = types.OrderStatus(st)
		row.MemberID = strPtr(memberID)
		row.UserID = strPtr(userID)
		row.AddressID = strPtr(addressID)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter placed orders: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) FindPlacedOrder(ctx context.Context, orderID string) (*types.PlacedOrderRow, error) {
	var row types.PlacedOrderRow
	var st string
	var memberID, userID, addressID sql.NullString
	err := s.db.QueryRowContext(ctx, `
SELECT order_id, status, admin_id, member_id, user_id, address_id, service_category, work_description, created_at
FROM placed_orders
WHERE order_id = $1
`, orderID).Scan(&row.OrderID, &st, &row.AdminID, &memberID, &userID, &addressID,
		&row.ServiceCategory, &row.WorkDescription, &row.CreatedAt)
	if err != nil {
		return nil, notFound(err, "find placed order")
	}
	row.Status = types.OrderStatus(st)
	row.MemberID = strPtr(memberID)
	row.UserID = strPtr(userID)
	row.AddressID = strPtr(addressID)
	return &row, nil
}

func (s *PostgresStore) SetPlacedOrderStatus(ctx context.Context, orderID string, status types.OrderStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE placed_orders SET status = $1 WHERE order_id = $2`, string(status), orderID)
	if err != nil {
		return fmt.Errorf("set placed order status: %w", err)
	}
	return requireAffected(res)
}

const dispatchColumns = `order_id, ticket_id, admin_id, user_id, category, request_address, order_request,
order_status, scheduled_time, previous_order_id, cancellation_reason, customer_name, phone_number,
created_at, updated_at`

func (s *PostgresStore) ListDispatchRecords(ctx context.Context, adminID int64, status types.OrderStatus) ([]types.DispatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+dispatchColumns+`
FROM dispatch
WHERE admin_id = $1 AND order_status = $2
ORDER BY created_at ASC
`, adminID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list dispatch records: %w", err)
	}
	defer rows.Close()

	out := make([]types.DispatchRecord, 0)
	for rows.Next() {
		rec, err := scanDispatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter dispatch records: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetDispatchRecord(ctx context.Context, orderID string) (*types.DispatchRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+dispatchColumns+` FROM dispatch WHERE order_id = $1`, orderID)
	return scanDispatch(row)
}

func (s *PostgresStore) InsertDispatchRecord(ctx context.Context, rec *types.DispatchRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
INSERT INTO dispatch(order_id, ticket_id, admin_id, user_id, category, request_address, order_request,
	order_status, scheduled_time, previous_order_id, cancellation_reason, customer_name, phone_number,
	created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
`, rec.OrderID, rec.TicketID, rec.AdminID, nullableStr(rec.UserID), rec.Category, rec.RequestAddress,
		rec.OrderRequest, string(rec.OrderStatus), nullableStr(rec.ScheduledTime), nullableStr(rec.PreviousOrderID),
		nullableStr(rec.CancellationReason), rec.CustomerName, rec.PhoneNumber, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert dispatch %s: %w", rec.OrderID, ErrDuplicate)
		}
		return fmt.Errorf("insert dispatch: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDispatchRecord(ctx context.Context, rec *types.DispatchRecord) error {
	rec.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
UPDATE dispatch SET
	ticket_id = $2,
	admin_id = $3,
	user_id = $4,
	category = $5,
	request_address = $6,
	order_request = $7,
	order_status = $8,
	scheduled_time = $9,
	previous_order_id = $10,
	cancellation_reason = $11,
	customer_name = $12,
	phone_number = $13,
	updated_at = $14
WHERE order_id = $1
`, rec.OrderID, rec.TicketID, rec.AdminID, nullableStr(rec.UserID), rec.Category, rec.RequestAddress,
		rec.OrderRequest, string(rec.OrderStatus), nullableStr(rec.ScheduledTime), nullableStr(rec.PreviousOrderID),
		nullableStr(rec.CancellationReason), rec.CustomerName, rec.PhoneNumber, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update dispatch: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) SetDispatchStatus(ctx context.Context, orderID string, status types.OrderStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE dispatch SET order_status = $1, updated_at = now() WHERE order_id = $2`,
		string(status), orderID)
	if err != nil {
		return fmt.Errorf("set dispatch status: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) FindMemberByPhone(ctx context.Context, phone string) (*types.Member, error) {
	var m types.Member
	err := s.db.QueryRowContext(ctx, `
SELECT m.member_id, m.name
FROM allowed_numbers a
JOIN memberships m ON m.member_id = a.member_id
WHERE a.phone = $1
`, phone).Scan(&m.MemberID, &m.Name)
	if err != nil {
		return nil, notFound(err, "find member by phone")
	}
	return &m, nil
}

func (s *PostgresStore) GetMember(ctx context.Context, memberID string) (*types.Member, error) {
	var m types.Member
	err := s.db.QueryRowContext(ctx, `SELECT member_id, name FROM memberships WHERE member_id = $1`, memberID).
		Scan(&m.MemberID, &m.Name)
	if err != nil {
		return nil, notFound(err, "get member")
	}
	return &m, nil
}

func (s *PostgresStore) GetAllowedNumber(ctx context.Context, memberID string) (string, error) {
	var phone string
	err := s.db.QueryRowContext(ctx, `SELECT phone FROM allowed_numbers WHERE member_id = $1 LIMIT 1`, memberID).
		Scan(&phone)
	if err != nil {
		return "", notFound(err, "get allowed number")
	}
	return phone, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (*types.User, error) {
	var u types.User
	err := s.db.QueryRowContext(ctx, `SELECT user_id, full_name, phone FROM users WHERE user_id = $1`, userID).
		Scan(&u.UserID, &u.FullName, &u.Phone)
	if err != nil {
		return nil, notFound(err, "get user")
	}
	return &u, nil
}

func (s *PostgresStore) GetAddress(ctx context.Context, addressID string) (*types.Address, error) {
	var a types.Address
	err := s.db.QueryRowContext(ctx, `SELECT address_id, member_id, address_line FROM addresses WHERE address_id = $1`, addressID).
		Scan(&a.AddressID, &a.MemberID, &a.Line)
	if err != nil {
		return nil, notFound(err, "get address")
	}
	return &a, nil
}

func (s *PostgresStore) ListAddresses(ctx context.Context, memberID string) ([]types.Address, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT address_id, member_id, address_line
FROM addresses
WHERE member_id = $1
ORDER BY address_id ASC
`, memberID)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	defer rows.Close()

	out := make([]types.Address, 0)
	for rows.Next() {
		var a types.Address
		if err := rows.Scan(&a.AddressID, &a.MemberID, &a.Line); err != nil {
			return nil, fmt.Errorf("scan address: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter addresses: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListAvailableServicemen(ctx context.Context, category string) ([]types.Serviceman, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT user_id, full_name, current_lat, current_lng, rating, vehicle, category
FROM servicemen
WHERE available AND category = $1
ORDER BY full_name ASC
`, category)
	if err != nil {
		return nil, fmt.Errorf("list servicemen: %w", err)
	}
	defer rows.Close()

	out := make([]types.Serviceman, 0)
	for rows.Next() {
		var sm types.Serviceman
		var lat, lng sql.NullFloat64
		if err := rows.Scan(&sm.UserID, &sm.FullName, &lat, &lng, &sm.Rating, &sm.Vehicle, &sm.Category); err != nil {
			return nil, fmt.Errorf("scan serviceman: %w", err)
		}
		sm.CurrentLat = floatPtr(lat)
		sm.CurrentLng = floatPtr(lng)
		out = append(out, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter servicemen: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SetAgentStatus(ctx context.Context, firebaseUID string, status types.PresenceStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET status = $1, updated_at = now() WHERE firebase_uid = $2`,
		string(status), firebaseUID)
	if err != nil {
		return fmt.Errorf("set agent status: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) GetAdminID(ctx context.Context, firebaseUID string) (int64, error) {
	var adminID int64
	err := s.db.QueryRowContext(ctx, `SELECT admin_id FROM agents WHERE firebase_uid = $1`, firebaseUID).Scan(&adminID)
	if err != nil {
		return 0, notFound(err, "get admin id")
	}
	return adminID, nil
}

func (s *PostgresStore) RegisterAgent(ctx context.Context, agent types.Agent) error {
	status := agent.Status
	if status == "" {
		status = types.PresenceOffline
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO agents(firebase_uid, email, agent_id, admin_id, status)
VALUES ($1, $2, $3, $4, $5)
`, agent.FirebaseUID, agent.Email, agent.AgentID, agent.AdminID, string(status))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("register agent %s: %w", agent.FirebaseUID, ErrDuplicate)
		}
		return fmt.Errorf("register agent: %w", err)
	}
	return nil
}

func scanDispatch(scanner interface{ Scan(dest ...any) error }) (*types.DispatchRecord, error) {
	var rec types.DispatchRecord
	var status string
	var userID, scheduled, previous, reason sql.NullString
	err := scanner.Scan(&rec.OrderID, &rec.TicketID, &rec.AdminID, &userID, &rec.Category, &rec.RequestAddress,
		&rec.OrderRequest, &status, &scheduled, &previous, &reason, &rec.CustomerName, &rec.PhoneNumber,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "scan dispatch")
	}
	rec.OrderStatus = types.OrderStatus(status)
	rec.UserID = strPtr(userID)
	rec.ScheduledTime = strPtr(scheduled)
	rec.PreviousOrderID = strPtr(previous)
	rec.CancellationReason = strPtr(reason)
	return &rec, nil
}

func notFound(err error, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Name() == "unique_violation"
	}
	return false
}

func nullableStr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
