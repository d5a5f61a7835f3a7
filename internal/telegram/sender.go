package telegram

import (
	"context"
	"errors"
	"time"
)

// Sender define la interfaz para entregar codigos de login por Telegram.
type Sender interface {
	SendLoginCode(ctx context.Context, chatID int64, code string, expiresAt time.Time) error
}

type disabledSender struct {
	reason string
}

func NewDisabledSender(reason string) Sender {
	return &disabledSender{reason: reason}
}

func (s *disabledSender) SendLoginCode(_ context.Context, _ int64, _ string, _ time.Time) error {
	if s.reason == "" {
		return errors.New("telegram sender disabled")
	}
	return errors.New(s.reason)
}
