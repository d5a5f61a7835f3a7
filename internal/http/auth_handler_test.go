package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"vpn-miniapp/internal/domain"
	"vpn-miniapp/internal/service"
)

type mockProfileRepo struct {
	byID       map[string]domain.Profile
	byUsername map[string]string
}

func newMockProfileRepo() *mockProfileRepo {
	return &mockProfileRepo{
		byID:       make(map[string]domain.Profile),
		byUsername: make(map[string]string),
	}
}

func (m *mockProfileRepo) add(p domain.Profile) {
	m.byID[p.ID] = p
	if p.TelegramUsername != "" {
		m.byUsername[p.TelegramUsername] = p.ID
	}
}

func (m *mockProfileRepo) GetByID(_ context.Context, id string) (domain.Profile, error) {
	p, ok := m.byID[id]
	if !ok {
		return domain.Profile{}, pgx.ErrNoRows
	}
	return p, nil
}

func (m *mockProfileRepo) GetByTelegramID(_ context.Context, telegramID int64) (domain.Profile, error) {
	for _, p := range m.byID {
		if p.TelegramID == telegramID {
			return p, nil
		}
	}
	return domain.Profile{}, pgx.ErrNoRows
}

func (m *mockProfileRepo) GetByUsername(_ context.Context, username string) (domain.Profile, error) {
	id, ok := m.byUsername[username]
	if !ok {
		return domain.Profile{}, pgx.ErrNoRows
	}
	return m.GetByID(context.Background(), id)
}

func (m *mockProfileRepo) GetByUsernameOrEmail(_ context.Context, identifier string) (domain.Profile, error) {
	return m.GetByUsername(context.Background(), identifier)
}

type mockOTPSessionRepo struct {
	sessions map[string]domain.OTPSession
	nextID   int
}

func newMockOTPSessionRepo() *mockOTPSessionRepo {
	return &mockOTPSessionRepo{sessions: make(map[string]domain.OTPSession)}
}

func (m *mockOTPSessionRepo) Create(_ context.Context, userID, sessionID, codeHash string, expiresAt time.Time) (domain.OTPSession, error) {
	if _, exists := m.sessions[sessionID]; exists {
		return domain.OTPSession{}, errors.New("duplicate session id")
	}
	m.nextID++
	s := domain.OTPSession{
		ID:          fmt.Sprintf("row-%d", m.nextID),
		UserID:      userID,
		SessionID:   sessionID,
		CodeHash:    codeHash,
		MaxAttempts: 3,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now().UTC(),
	}
	m.sessions[sessionID] = s
	return s, nil
}

func (m *mockOTPSessionRepo) GetBySessionIDAndHash(_ context.Context, sessionID, codeHash string) (domain.OTPSession, error) {
	s, ok := m.sessions[sessionID]
	if !ok || s.CodeHash != codeHash || !s.ExpiresAt.After(time.Now().UTC()) {
		return domain.OTPSession{}, pgx.ErrNoRows
	}
	return s, nil
}

func (m *mockOTPSessionRepo) GetBySessionID(_ context.Context, sessionID string) (domain.OTPSession, error) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return domain.OTPSession{}, pgx.ErrNoRows
	}
	return s, nil
}

func (m *mockOTPSessionRepo) IncrementAttempts(_ context.Context, sessionID string) (domain.OTPSession, error) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return domain.OTPSession{}, pgx.ErrNoRows
	}
	s.Attempts++
	m.sessions[sessionID] = s
	return s, nil
}

func (m *mockOTPSessionRepo) MarkVerified(_ context.Context, sessionID string) (domain.OTPSession, error) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return domain.OTPSession{}, pgx.ErrNoRows
	}
	s.Verified = true
	m.sessions[sessionID] = s
	return s, nil
}

func (m *mockOTPSessionRepo) DeleteExpired(_ context.Context) (int64, error) {
	now := time.Now().UTC()
	var removed int64
	for id, s := range m.sessions {
		if s.ExpiresAt.Before(now) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed, nil
}

type mockSender struct {
	lastChatID int64
	lastCode   string
	err        error
}

func (m *mockSender) SendLoginCode(_ context.Context, chatID int64, code string, _ time.Time) error {
	if m.err != nil {
		return m.err
	}
	m.lastChatID = chatID
	m.lastCode = code
	return nil
}

type allowAllLimiter struct{}

func (allowAllLimiter) Allow(string) bool { return true }

func newTestRouter(t *testing.T) (*gin.Engine, *mockSender) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	profiles := newMockProfileRepo()
	profiles.add(domain.Profile{ID: "p1", TelegramID: 1000, TelegramUsername: "bob", FirstName: "Bob"})
	sessions := newMockOTPSessionRepo()
	sender := &mockSender{}

	logger := zap.NewNop()
	otpSvc := service.NewOTPService(logger, profiles, sessions, sender, allowAllLimiter{})
	jwtSvc := service.NewJWTServiceWithStore("secret", 15*time.Minute, 30*time.Minute, service.NewMemoryRefreshTokenStore())
	authH := NewAuthHandler(logger, otpSvc, jwtSvc, profiles)
	return NewRouter(logger, nil, authH, jwtSvc), sender
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRequestOTPEndpoint(t *testing.T) {
	t.Run("known identifier returns a session id", func(t *testing.T) {
		r, sender := newTestRouter(t)
		rec := doJSON(t, r, http.MethodPost, "/auth/request-otp", gin.H{"identifier": "@bob"}, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var resp struct {
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if len(resp.SessionID) != 32 {
			t.Fatalf("expected 32-char session id, got %q", resp.SessionID)
		}
		if sender.lastChatID != 1000 || sender.lastCode == "" {
			t.Fatalf("expected code delivered to chat 1000")
		}
		if bytes.Contains(rec.Body.Bytes(), []byte(sender.lastCode)) {
			t.Fatalf("plaintext code must never reach the web client")
		}
	})

	t.Run("unknown identifier returns 404", func(t *testing.T) {
		r, _ := newTestRouter(t)
		rec := doJSON(t, r, http.MethodPost, "/auth/request-otp", gin.H{"identifier": "ghost"}, nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("missing identifier returns 400", func(t *testing.T) {
		r, _ := newTestRouter(t)
		rec := doJSON(t, r, http.MethodPost, "/auth/request-otp", gin.H{}, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})
}

func TestVerifyOTPEndpoint(t *testing.T) {
	login := func(t *testing.T, r *gin.Engine, sender *mockSender) string {
		t.Helper()
		rec := doJSON(t, r, http.MethodPost, "/auth/request-otp", gin.H{"identifier": "@bob"}, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("request otp: %d", rec.Code)
		}
		var resp struct {
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return resp.SessionID
	}

	t.Run("correct code returns profile and tokens", func(t *testing.T) {
		r, sender := newTestRouter(t)
		sessionID := login(t, r, sender)

		rec := doJSON(t, r, http.MethodPost, "/auth/verify-otp", gin.H{"session_id": sessionID, "code": sender.lastCode}, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var resp struct {
			Profile domain.Profile    `json:"profile"`
			Tokens  service.TokenPair `json:"tokens"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Profile.ID != "p1" {
			t.Fatalf("expected profile p1, got %s", resp.Profile.ID)
		}
		if resp.Tokens.AccessToken == "" || resp.Tokens.RefreshToken == "" {
			t.Fatalf("expected token pair")
		}
	})

	t.Run("wrong code and unknown session return the same 401", func(t *testing.T) {
		r, sender := newTestRouter(t)
		sessionID := login(t, r, sender)

		wrong := doJSON(t, r, http.MethodPost, "/auth/verify-otp", gin.H{"session_id": sessionID, "code": "000000"}, nil)
		unknown := doJSON(t, r, http.MethodPost, "/auth/verify-otp", gin.H{"session_id": "deadbeefdeadbeefdeadbeefdeadbeef", "code": "000000"}, nil)
		if wrong.Code != http.StatusUnauthorized || unknown.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401/401, got %d/%d", wrong.Code, unknown.Code)
		}
		if wrong.Body.String() != unknown.Body.String() {
			t.Fatalf("failure responses must be indistinguishable: %q vs %q", wrong.Body.String(), unknown.Body.String())
		}
	})

	t.Run("access token from verify opens the protected profile route", func(t *testing.T) {
		r, sender := newTestRouter(t)
		sessionID := login(t, r, sender)

		rec := doJSON(t, r, http.MethodPost, "/auth/verify-otp", gin.H{"session_id": sessionID, "code": sender.lastCode}, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("verify: %d", rec.Code)
		}
		var resp struct {
			Tokens service.TokenPair `json:"tokens"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}

		me := doJSON(t, r, http.MethodGet, "/profile/me", nil, map[string]string{
			"Authorization": "Bearer " + resp.Tokens.AccessToken,
		})
		if me.Code != http.StatusOK {
			t.Fatalf("expected 200 on /profile/me, got %d: %s", me.Code, me.Body.String())
		}

		refreshed := doJSON(t, r, http.MethodPost, "/auth/refresh", gin.H{"refresh_token": resp.Tokens.RefreshToken}, nil)
		if refreshed.Code != http.StatusOK {
			t.Fatalf("expected 200 on refresh, got %d", refreshed.Code)
		}
		reused := doJSON(t, r, http.MethodPost, "/auth/refresh", gin.H{"refresh_token": resp.Tokens.RefreshToken}, nil)
		if reused.Code != http.StatusUnauthorized {
			t.Fatalf("rotated refresh token must be rejected, got %d", reused.Code)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
