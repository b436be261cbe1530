package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailbridge/internal/model"
)

type AttachmentRepository struct {
	db *pgxpool.Pool
}

func NewAttachmentRepository(db *pgxpool.Pool) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

// Create inserts one attachment record linked to its email.
func (r *AttachmentRepository) Create(ctx context.Context, a *model.EmailAttachment) error {
	query := `
        INSERT INTO email_attachments (email_id, filename, content_type, size, storage_path, created_at)
        VALUES ($1, $2, $3, $4, $5, NOW())
        RETURNING id
    `
	return r.db.QueryRow(ctx, query,
		a.EmailID,
		a.Filename,
		a.ContentType,
		a.Size,
		a.StoragePath,
	).Scan(&a.ID)
}

// ListByEmailID returns the attachments owned by one email record.
func (r *AttachmentRepository) ListByEmailID(ctx context.Context, emailID int64) ([]model.EmailAttachment, error) {
	query := `
        SELECT id, email_id, filename, content_type, size, storage_path, created_at
        FROM email_attachments
        WHERE email_id = $1
        ORDER BY id
    `
	rows, err := r.db.Query(ctx, query, emailID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attachments := []model.EmailAttachment{}
	for rows.Next() {
		var a model.EmailAttachment
		err := rows.Scan(&a.ID, &a.EmailID, &a.Filename, &a.ContentType, &a.Size, &a.StoragePath, &a.CreatedAt)
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, a)
	}

	return attachments, rows.Err()
}
