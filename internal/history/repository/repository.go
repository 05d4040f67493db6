package repository

import (
	"context"

	"bcryptcheck/internal/history/domain"
)

// Repository defines persistence for run history.
type Repository interface {
	Create(ctx context.Context, r *domain.Run) error
	// ListRecent returns up to limit runs, newest first.
	ListRecent(ctx context.Context, limit int) ([]*domain.Run, error)
}
