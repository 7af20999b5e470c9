package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/marketplace-chat/internal/domain"
)

// ProfileRepository is the identity-provider boundary for participants.
type ProfileRepository interface {
	// Ensure upserts the profile. Duplicate-key races are treated as
	// success; any other failure propagates.
	Ensure(ctx context.Context, profile *domain.Profile) error
	GetByID(ctx context.Context, userID string) (*domain.Profile, error)
}

type profileRepository struct {
	pool *pgxpool.Pool
}

// NewProfileRepository builds repository.
func NewProfileRepository(pool *pgxpool.Pool) ProfileRepository {
	return &profileRepository{pool: pool}
}

func (r *profileRepository) Ensure(ctx context.Context, profile *domain.Profile) error {
	const query = `
        INSERT INTO profiles (user_id, display_name, role)
        VALUES ($1,$2,$3)
        ON CONFLICT (user_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, query, profile.UserID, profile.DisplayName, profile.Role)
	if err != nil && IsUniqueViolation(err) {
		return nil
	}
	return err
}

func (r *profileRepository) GetByID(ctx context.Context, userID string) (*domain.Profile, error) {
	const query = `SELECT user_id, display_name, role, created_at FROM profiles WHERE user_id=$1`
	var profile domain.Profile
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&profile.UserID,
		&profile.DisplayName,
		&profile.Role,
		&profile.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}
