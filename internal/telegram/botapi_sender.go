package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// BotAPISender entrega codigos via el metodo sendMessage del Bot API.
type BotAPISender struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewBotAPISender(baseURL, token string) (*BotAPISender, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://api.telegram.org"
	}
	return &BotAPISender{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

func (s *BotAPISender) SendLoginCode(ctx context.Context, chatID int64, code string, expiresAt time.Time) error {
	if chatID == 0 {
		return fmt.Errorf("chat id is required")
	}

	text := fmt.Sprintf(
		"Your login code is %s.\nIt expires at %s UTC.\nIf you did not request it, ignore this message.",
		code,
		expiresAt.UTC().Format("15:04"),
	)

	payload, err := json.Marshal(map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var apiResp struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return fmt.Errorf("telegram api: decoding response: %w", err)
	}
	if !apiResp.OK {
		if apiResp.Description != "" {
			return fmt.Errorf("telegram api: %s", apiResp.Description)
		}
		return fmt.Errorf("telegram api: status %d", resp.StatusCode)
	}
	return nil
}
