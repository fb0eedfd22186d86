package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/0MATRIX0/agent-connect/internal/model"
)

const (
	// MaxNotifications is how many notifications the inbox keeps.
	MaxNotifications = 500

	DefaultNotificationTitle = "Agent Connect"
	DefaultNotificationIcon  = "/icon-192.png"
)

// NotificationRepository is the notification inbox.
type NotificationRepository struct {
	db  *sql.DB
	max int
}

// NewNotificationRepository creates an inbox capped at MaxNotifications.
func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db, max: MaxNotifications}
}

// Add fills in defaults, stores n and trims the inbox to its newest entries.
// The stored notification is returned.
func (r *NotificationRepository) Add(ctx context.Context, n model.Notification) (*model.Notification, error) {
	if n.Title == "" {
		n.Title = DefaultNotificationTitle
	}
	if n.Type == "" {
		n.Type = model.NotificationCompleted
	}
	if n.Icon == "" {
		n.Icon = DefaultNotificationIcon
	}
	if len(n.Data) == 0 {
		n.Data = json.RawMessage("{}")
	}
	n.ID = uuid.NewString()
	n.Timestamp = time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO notifications (id, title, body, type, icon, session_id, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query, n.ID, n.Title, n.Body, string(n.Type), n.Icon,
		nullString(n.SessionID), string(n.Data), n.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to add notification: %w", err)
	}

	trim := `
		DELETE FROM notifications
		WHERE seq NOT IN (SELECT seq FROM notifications ORDER BY seq DESC LIMIT ?)
	`
	if _, err := tx.ExecContext(ctx, trim, r.max); err != nil {
		return nil, fmt.Errorf("failed to trim notifications: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit notification: %w", err)
	}

	return &n, nil
}

// List returns the inbox, newest first.
func (r *NotificationRepository) List(ctx context.Context) ([]*model.Notification, error) {
	query := `
		SELECT id, title, body, type, icon, session_id, data, created_at
		FROM notifications
		ORDER BY seq DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	notifications := []*model.Notification{}
	for rows.Next() {
		n := &model.Notification{}
		var icon, sessionID, data sql.NullString
		var typ string

		if err := rows.Scan(&n.ID, &n.Title, &n.Body, &typ, &icon, &sessionID, &data, &n.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Type = model.NotificationType(typ)
		n.Icon = icon.String
		n.SessionID = sessionID.String
		if data.Valid && data.String != "" {
			n.Data = json.RawMessage(data.String)
		}
		notifications = append(notifications, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}

	return notifications, nil
}

// Count returns the number of notifications in the inbox.
func (r *NotificationRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count notifications: %w", err)
	}
	return count, nil
}

// Delete removes one notification.
func (r *NotificationRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return model.ErrNotificationNotFound
	}

	return nil
}

// Clear empties the inbox.
func (r *NotificationRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM notifications`); err != nil {
		return fmt.Errorf("failed to clear notifications: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
