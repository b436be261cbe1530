package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailbridge/internal/model"
)

type EmailRepository struct {
	db *pgxpool.Pool
}

func NewEmailRepository(db *pgxpool.Pool) *EmailRepository {
	return &EmailRepository{db: db}
}

// Create inserts the record and fills in its generated ID.
func (r *EmailRepository) Create(ctx context.Context, e *model.EmailRecord) error {
	query := `
        INSERT INTO emails (
            message_id, in_reply_to, refs, sender, recipients,
            subject, body, content_type, category, status, error,
            metadata, received_at, processed_at, sent_at, created_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW())
        RETURNING id, created_at
    `
	return r.db.QueryRow(ctx, query,
		e.MessageID,
		e.InReplyTo,
		e.References,
		e.Sender,
		e.Recipients,
		e.Subject,
		e.Body,
		e.ContentType,
		e.Category,
		e.Status,
		e.Error,
		e.Metadata,
		e.ReceivedAt,
		e.ProcessedAt,
		e.SentAt,
	).Scan(&e.ID, &e.CreatedAt)
}

// Update persists the mutable fields of an existing record.
func (r *EmailRepository) Update(ctx context.Context, e *model.EmailRecord) error {
	query := `
        UPDATE emails
        SET status = $1,
            error = $2,
            metadata = $3,
            processed_at = $4,
            sent_at = $5
        WHERE id = $6
    `
	_, err := r.db.Exec(ctx, query,
		e.Status,
		e.Error,
		e.Metadata,
		e.ProcessedAt,
		e.SentAt,
		e.ID,
	)
	return err
}

// GetByID returns one record by primary key.
func (r *EmailRepository) GetByID(ctx context.Context, id int64) (*model.EmailRecord, error) {
	query := `
        SELECT id, message_id, in_reply_to, refs, sender, recipients,
               subject, body, content_type, category, status, error,
               metadata, received_at, processed_at, sent_at, created_at
        FROM emails
        WHERE id = $1
    `
	var e model.EmailRecord
	err := r.db.QueryRow(ctx, query, id).Scan(
		&e.ID,
		&e.MessageID,
		&e.InReplyTo,
		&e.References,
		&e.Sender,
		&e.Recipients,
		&e.Subject,
		&e.Body,
		&e.ContentType,
		&e.Category,
		&e.Status,
		&e.Error,
		&e.Metadata,
		&e.ReceivedAt,
		&e.ProcessedAt,
		&e.SentAt,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// List returns the most recent records, newest first.
func (r *EmailRepository) List(ctx context.Context, limit int) ([]model.EmailRecord, error) {
	query := `
        SELECT id, message_id, sender, recipients, subject,
               category, status, error, received_at, processed_at,
               sent_at, created_at
        FROM emails
        ORDER BY created_at DESC
        LIMIT $1
    `
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	emails := []model.EmailRecord{}
	for rows.Next() {
		var e model.EmailRecord
		err := rows.Scan(
			&e.ID,
			&e.MessageID,
			&e.Sender,
			&e.Recipients,
			&e.Subject,
			&e.Category,
			&e.Status,
			&e.Error,
			&e.ReceivedAt,
			&e.ProcessedAt,
			&e.SentAt,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		emails = append(emails, e)
	}

	return emails, rows.Err()
}
