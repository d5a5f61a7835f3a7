package domain

import "time"

// Profile representa la cuenta de un usuario del mini-app.
type Profile struct {
	ID               string    `json:"id"`
	TelegramID       int64     `json:"telegram_id"`
	LinkedTelegramID *int64    `json:"linked_telegram_id,omitempty"`
	TelegramUsername string    `json:"telegram_username,omitempty"`
	Email            string    `json:"email,omitempty"`
	FirstName        string    `json:"first_name,omitempty"`
	LastName         string    `json:"last_name,omitempty"`
	AvatarURL        string    `json:"avatar_url,omitempty"`
	ReferralCode     string    `json:"referral_code,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
