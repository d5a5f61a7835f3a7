package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"vpn-miniapp/internal/domain"
)

// OTPSessionRepository define el contrato de persistencia para sesiones OTP.
// IncrementAttempts y MarkVerified son updates atomicos de un solo campo:
// dos verificaciones concurrentes sobre la misma sesion no pierden conteos.
type OTPSessionRepository interface {
	Create(ctx context.Context, userID, sessionID, codeHash string, expiresAt time.Time) (domain.OTPSession, error)
	GetBySessionIDAndHash(ctx context.Context, sessionID, codeHash string) (domain.OTPSession, error)
	GetBySessionID(ctx context.Context, sessionID string) (domain.OTPSession, error)
	IncrementAttempts(ctx context.Context, sessionID string) (domain.OTPSession, error)
	MarkVerified(ctx context.Context, sessionID string) (domain.OTPSession, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

// PgOTPSessionRepository implementa OTPSessionRepository usando pgxpool.
type PgOTPSessionRepository struct {
	pool *pgxpool.Pool
}

func NewPgOTPSessionRepository(pool *pgxpool.Pool) *PgOTPSessionRepository {
	return &PgOTPSessionRepository{pool: pool}
}

const otpSessionColumns = `id, user_id, session_id, code_hash, attempts, max_attempts, expires_at, verified, created_at`

func (r *PgOTPSessionRepository) Create(ctx context.Context, userID, sessionID, codeHash string, expiresAt time.Time) (domain.OTPSession, error) {
	const query = `
		INSERT INTO otp_sessions (user_id, session_id, code_hash, expires_at, attempts, max_attempts)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + otpSessionColumns
	return r.queryOne(ctx, query, userID, sessionID, codeHash, expiresAt, 0, 3)
}

// GetBySessionIDAndHash solo devuelve sesiones vigentes: las expiradas son
// invisibles a esta consulta aunque el sweep todavia no las haya borrado.
func (r *PgOTPSessionRepository) GetBySessionIDAndHash(ctx context.Context, sessionID, codeHash string) (domain.OTPSession, error) {
	const query = `
		SELECT ` + otpSessionColumns + `
		FROM otp_sessions
		WHERE session_id = $1 AND code_hash = $2 AND expires_at > NOW()
	`
	return r.queryOne(ctx, query, sessionID, codeHash)
}

func (r *PgOTPSessionRepository) GetBySessionID(ctx context.Context, sessionID string) (domain.OTPSession, error) {
	const query = `SELECT ` + otpSessionColumns + ` FROM otp_sessions WHERE session_id = $1`
	return r.queryOne(ctx, query, sessionID)
}

func (r *PgOTPSessionRepository) IncrementAttempts(ctx context.Context, sessionID string) (domain.OTPSession, error) {
	const query = `
		UPDATE otp_sessions
		SET attempts = attempts + 1
		WHERE session_id = $1
		RETURNING ` + otpSessionColumns
	return r.queryOne(ctx, query, sessionID)
}

func (r *PgOTPSessionRepository) MarkVerified(ctx context.Context, sessionID string) (domain.OTPSession, error) {
	const query = `
		UPDATE otp_sessions
		SET verified = TRUE
		WHERE session_id = $1
		RETURNING ` + otpSessionColumns
	return r.queryOne(ctx, query, sessionID)
}

func (r *PgOTPSessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	const query = `DELETE FROM otp_sessions WHERE expires_at < NOW()`
	tag, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PgOTPSessionRepository) queryOne(ctx context.Context, query string, args ...any) (domain.OTPSession, error) {
	var s domain.OTPSession
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&s.ID,
		&s.UserID,
		&s.SessionID,
		&s.CodeHash,
		&s.Attempts,
		&s.MaxAttempts,
		&s.ExpiresAt,
		&s.Verified,
		&s.CreatedAt,
	)
	if err != nil {
		return domain.OTPSession{}, err
	}
	return s, nil
}
