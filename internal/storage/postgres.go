package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStore(databaseURL string, logger *zap.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://db/migrations/postgres",
		"postgres",
		driver,
	)
	if err != nil {
		return nil, fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nil, fmt.Errorf("could not run database migrations: %w", err)
	}
	logger.Info("database connected and migrated")

	return &PostgresStore{db: db, logger: logger}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Subscription operations

func (s *PostgresStore) GetActiveSubscriptions(ctx context.Context, recipientIDs []string) ([]DeviceSubscription, error) {
	if len(recipientIDs) == 0 {
		return nil, nil
	}

	query := `SELECT recipient_id, device_id, platform, is_active, subscribed, invalid, COALESCE(last_checked_at, to_timestamp(0))
		FROM subscriptions WHERE recipient_id = ANY($1) AND is_active = true`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(recipientIDs))
	if err != nil {
		return nil, fmt.Errorf("error getting subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []DeviceSubscription
	for rows.Next() {
		var sub DeviceSubscription
		if err := rows.Scan(&sub.RecipientID, &sub.DeviceID, &sub.Platform, &sub.IsActive, &sub.Subscribed, &sub.Invalid, &sub.LastCheckedAt); err != nil {
			return nil, fmt.Errorf("error scanning subscription: %w", err)
		}
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}

func (s *PostgresStore) UpdateSubscriptionHealth(ctx context.Context, deviceID string, subscribed, invalid bool, checkedAt time.Time) error {
	query := `UPDATE subscriptions SET subscribed = $1, invalid = $2, last_checked_at = $3 WHERE device_id = $4`
	result, err := s.db.ExecContext(ctx, query, subscribed, invalid, checkedAt, deviceID)
	if err != nil {
		return fmt.Errorf("error updating subscription health: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return Errors.NotFound
	}

	return nil
}

func (s *PostgresStore) GetSubscribedDeviceBatch(ctx context.Context, cursor string, batchSize int) (*DeviceBatch, error) {
	query := `SELECT recipient_id, device_id, platform, is_active, subscribed, invalid, COALESCE(last_checked_at, to_timestamp(0))
		FROM subscriptions
		WHERE is_active = true AND subscribed = true AND invalid = false AND device_id > $1
		ORDER BY device_id LIMIT $2`
	rows, err := s.db.QueryContext(ctx, query, cursor, batchSize+1)
	if err != nil {
		return nil, fmt.Errorf("error getting device batch: %w", err)
	}
	defer rows.Close()

	var devices []DeviceSubscription
	for rows.Next() {
		var sub DeviceSubscription
		if err := rows.Scan(&sub.RecipientID, &sub.DeviceID, &sub.Platform, &sub.IsActive, &sub.Subscribed, &sub.Invalid, &sub.LastCheckedAt); err != nil {
			return nil, fmt.Errorf("error scanning subscription: %w", err)
		}
		devices = append(devices, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error getting device batch: %w", err)
	}

	batch := &DeviceBatch{
		Devices: devices,
		HasMore: false,
	}
	if len(devices) > batchSize {
		batch.HasMore = true
		batch.Devices = devices[:batchSize]
		batch.NextCursor = devices[batchSize-1].DeviceID
	}
	return batch, nil
}

// Policy reads

func (s *PostgresStore) GetPreferences(ctx context.Context, recipientID string) (map[string]bool, error) {
	query := `SELECT preferences FROM preferences WHERE recipient_id = $1`
	row := s.db.QueryRowContext(ctx, query, recipientID)

	var raw []byte
	err := row.Scan(&raw)
	if err == sql.ErrNoRows {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting preferences: %w", err)
	}

	prefs := map[string]bool{}
	if err := unmarshalPreferences(raw, &prefs); err != nil {
		return nil, fmt.Errorf("error decoding preferences: %w", err)
	}
	return prefs, nil
}

func (s *PostgresStore) IsMuted(ctx context.Context, leagueID, recipientID string) (bool, error) {
	query := `SELECT muted FROM mute_settings WHERE league_id = $1 AND recipient_id = $2`
	row := s.db.QueryRowContext(ctx, query, leagueID, recipientID)

	var muted bool
	err := row.Scan(&muted)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("error getting mute setting: %w", err)
	}
	return muted, nil
}

// Send log operations

func (s *PostgresStore) ReserveSend(ctx context.Context, eventID, recipientID, environment string) (bool, error) {
	query := `INSERT INTO send_log(event_id, recipient_id, environment, status, reserved_at)
		VALUES($1, $2, $3, 'reserved', $4)
		ON CONFLICT (event_id, recipient_id, environment) DO NOTHING`
	result, err := s.db.ExecContext(ctx, query, eventID, recipientID, environment, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("error reserving send: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	return rowsAffected == 1, nil
}

func (s *PostgresStore) ConfirmSend(ctx context.Context, eventID, recipientID, environment string, sentAt time.Time) error {
	query := `UPDATE send_log SET status = 'sent', sent_at = $1
		WHERE event_id = $2 AND recipient_id = $3 AND environment = $4`
	result, err := s.db.ExecContext(ctx, query, sentAt, eventID, recipientID, environment)
	if err != nil {
		return fmt.Errorf("error confirming send: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return Errors.NotFound
	}
	return nil
}

func (s *PostgresStore) ReleaseSend(ctx context.Context, eventID, recipientID, environment string) error {
	query := `DELETE FROM send_log
		WHERE event_id = $1 AND recipient_id = $2 AND environment = $3 AND status = 'reserved'`
	_, err := s.db.ExecContext(ctx, query, eventID, recipientID, environment)
	if err != nil {
		return fmt.Errorf("error releasing send: %w", err)
	}
	return nil
}

// Audit operations

func (s *PostgresStore) BulkInsertReceipts(ctx context.Context, receipts []DispatchReceipt) error {
	if len(receipts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `INSERT INTO dispatch_receipts(id, event_id, recipient_id, environment, outcome, reason, dispatched_at)
		VALUES($1, $2, $3, $4, $5, $6, $7)`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range receipts {
		_, err := stmt.ExecContext(ctx, r.ID, r.EventID, r.RecipientID, r.Environment, r.Outcome, r.Reason, r.DispatchedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}
