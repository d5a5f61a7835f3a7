package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"vpn-miniapp/internal/domain"
)

// ProfileRepository define las consultas de perfiles que usa la autenticacion.
// La tabla profiles pertenece al resto del backend; aqui solo se lee.
type ProfileRepository interface {
	GetByID(ctx context.Context, id string) (domain.Profile, error)
	GetByTelegramID(ctx context.Context, telegramID int64) (domain.Profile, error)
	GetByUsername(ctx context.Context, username string) (domain.Profile, error)
	GetByUsernameOrEmail(ctx context.Context, identifier string) (domain.Profile, error)
}

// PgProfileRepository implementa ProfileRepository usando pgxpool.
type PgProfileRepository struct {
	pool *pgxpool.Pool
}

func NewPgProfileRepository(pool *pgxpool.Pool) *PgProfileRepository {
	return &PgProfileRepository{pool: pool}
}

const profileColumns = `
	id, telegram_id, linked_telegram_id,
	COALESCE(telegram_username, ''), COALESCE(email, ''),
	COALESCE(first_name, ''), COALESCE(last_name, ''),
	COALESCE(avatar_url, ''), COALESCE(referral_code, ''),
	created_at
`

func (r *PgProfileRepository) GetByID(ctx context.Context, id string) (domain.Profile, error) {
	const query = `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`
	return r.queryOne(ctx, query, id)
}

func (r *PgProfileRepository) GetByTelegramID(ctx context.Context, telegramID int64) (domain.Profile, error) {
	const query = `SELECT ` + profileColumns + ` FROM profiles WHERE telegram_id = $1 OR linked_telegram_id = $1`
	return r.queryOne(ctx, query, telegramID)
}

func (r *PgProfileRepository) GetByUsername(ctx context.Context, username string) (domain.Profile, error) {
	const query = `SELECT ` + profileColumns + ` FROM profiles WHERE telegram_username = $1`
	return r.queryOne(ctx, query, username)
}

func (r *PgProfileRepository) GetByUsernameOrEmail(ctx context.Context, identifier string) (domain.Profile, error) {
	const query = `SELECT ` + profileColumns + ` FROM profiles WHERE telegram_username = $1 OR email = $1`
	return r.queryOne(ctx, query, identifier)
}

func (r *PgProfileRepository) queryOne(ctx context.Context, query string, arg any) (domain.Profile, error) {
	var p domain.Profile
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&p.ID,
		&p.TelegramID,
		&p.LinkedTelegramID,
		&p.TelegramUsername,
		&p.Email,
		&p.FirstName,
		&p.LastName,
		&p.AvatarURL,
		&p.ReferralCode,
		&p.CreatedAt,
	)
	if err != nil {
		return domain.Profile{}, err
	}
	return p, nil
}
