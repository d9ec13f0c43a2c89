package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// SQLStore is the sqlite-backed Store used for local development. Timestamps
// are stored as RFC3339 strings.
type SQLStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSQLStore(dataSourceName string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://db/migrations/sqlite",
		"sqlite3",
		driver,
	)
	if err != nil {
		return nil, fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nil, fmt.Errorf("could not run database migrations: %w", err)
	}
	logger.Info("database connected and migrated")

	return &SQLStore{db: db, logger: logger}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Subscription operations

func (s *SQLStore) GetActiveSubscriptions(ctx context.Context, recipientIDs []string) ([]DeviceSubscription, error) {
	if len(recipientIDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`SELECT recipient_id, device_id, platform, is_active, subscribed, invalid, COALESCE(last_checked_at, '')
		FROM subscriptions WHERE recipient_id IN (%s) AND is_active = 1`, placeholders(len(recipientIDs)))
	args := make([]any, len(recipientIDs))
	for i, id := range recipientIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error getting subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []DeviceSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}

func scanSubscription(rows *sql.Rows) (DeviceSubscription, error) {
	var sub DeviceSubscription
	var checkedAt string
	if err := rows.Scan(&sub.RecipientID, &sub.DeviceID, &sub.Platform, &sub.IsActive, &sub.Subscribed, &sub.Invalid, &checkedAt); err != nil {
		return sub, fmt.Errorf("error scanning subscription: %w", err)
	}
	if checkedAt != "" {
		if t, err := time.Parse(time.RFC3339, checkedAt); err == nil {
			sub.LastCheckedAt = t
		}
	}
	return sub, nil
}

func (s *SQLStore) UpdateSubscriptionHealth(ctx context.Context, deviceID string, subscribed, invalid bool, checkedAt time.Time) error {
	query := `UPDATE subscriptions SET subscribed = ?, invalid = ?, last_checked_at = ? WHERE device_id = ?`
	result, err := s.db.ExecContext(ctx, query, subscribed, invalid, checkedAt.UTC().Format(time.RFC3339), deviceID)
	if err != nil {
		return fmt.Errorf("error updating subscription health: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return Errors.NotFound
	}

	return nil
}

func (s *SQLStore) GetSubscribedDeviceBatch(ctx context.Context, cursor string, batchSize int) (*DeviceBatch, error) {
	query := `SELECT recipient_id, device_id, platform, is_active, subscribed, invalid, COALESCE(last_checked_at, '')
		FROM subscriptions
		WHERE is_active = 1 AND subscribed = 1 AND invalid = 0 AND device_id > ?
		ORDER BY device_id LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, cursor, batchSize+1)
	if err != nil {
		return nil, fmt.Errorf("error getting device batch: %w", err)
	}
	defer rows.Close()

	var devices []DeviceSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
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

func (s *SQLStore) GetPreferences(ctx context.Context, recipientID string) (map[string]bool, error) {
	query := `SELECT preferences FROM preferences WHERE recipient_id = ?`
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

func (s *SQLStore) IsMuted(ctx context.Context, leagueID, recipientID string) (bool, error) {
	query := `SELECT muted FROM mute_settings WHERE league_id = ? AND recipient_id = ?`
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

func (s *SQLStore) ReserveSend(ctx context.Context, eventID, recipientID, environment string) (bool, error) {
	query := `INSERT OR IGNORE INTO send_log(event_id, recipient_id, environment, status, reserved_at)
		VALUES(?, ?, ?, 'reserved', ?)`
	result, err := s.db.ExecContext(ctx, query, eventID, recipientID, environment, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("error reserving send: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	return rowsAffected == 1, nil
}

func (s *SQLStore) ConfirmSend(ctx context.Context, eventID, recipientID, environment string, sentAt time.Time) error {
	query := `UPDATE send_log SET status = 'sent', sent_at = ?
		WHERE event_id = ? AND recipient_id = ? AND environment = ?`
	result, err := s.db.ExecContext(ctx, query, sentAt.UTC().Format(time.RFC3339), eventID, recipientID, environment)
	if err != nil {
		return fmt.Errorf("error confirming send: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return Errors.NotFound
	}
	return nil
}

func (s *SQLStore) ReleaseSend(ctx context.Context, eventID, recipientID, environment string) error {
	query := `DELETE FROM send_log
		WHERE event_id = ? AND recipient_id = ? AND environment = ? AND status = 'reserved'`
	_, err := s.db.ExecContext(ctx, query, eventID, recipientID, environment)
	if err != nil {
		return fmt.Errorf("error releasing send: %w", err)
	}
	return nil
}

// Audit operations

func (s *SQLStore) BulkInsertReceipts(ctx context.Context, receipts []DispatchReceipt) error {
	if len(receipts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `INSERT INTO dispatch_receipts(id, event_id, recipient_id, environment, outcome, reason, dispatched_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range receipts {
		_, err := stmt.ExecContext(ctx, r.ID, r.EventID, r.RecipientID, r.Environment, r.Outcome, r.Reason, r.DispatchedAt.UTC().Format(time.RFC3339))
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}
