package domain

import "time"

// OTPSession es el registro persistido de un intento de login por OTP.
// El codigo en claro nunca se guarda, solo su hash.
type OTPSession struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id"`
	CodeHash    string    `json:"-"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	ExpiresAt   time.Time `json:"expires_at"`
	Verified    bool      `json:"verified"`
	CreatedAt   time.Time `json:"created_at"`
}

// Expired indica si la sesion ya paso su ventana de validez.
func (s OTPSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Exhausted indica si la sesion agoto su presupuesto de intentos.
func (s OTPSession) Exhausted() bool {
	return s.Attempts >= s.MaxAttempts
}
