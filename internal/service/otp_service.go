package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"vpn-miniapp/internal/domain"
	"vpn-miniapp/internal/repository"
	"vpn-miniapp/internal/telegram"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	// ErrVerificationFailed cubre codigo incorrecto, sesion desconocida,
	// expirada o agotada. Un solo error hacia afuera: distinguirlos
	// permitiria enumerar sesiones e identificadores.
	ErrVerificationFailed = errors.New("verification failed")
	ErrDeliveryFailed     = errors.New("code delivery failed")
	ErrRateLimited        = errors.New("rate limited")
)

const otpSessionTTL = 10 * time.Minute

// OTPService orquesta el ciclo de vida de las sesiones OTP: creacion,
// verificacion con presupuesto de intentos y limpieza de expiradas.
// No guarda estado entre llamadas; todo vive en el repositorio.
type OTPService struct {
	logger   *zap.Logger
	profiles repository.ProfileRepository
	sessions repository.OTPSessionRepository
	sender   telegram.Sender
	limiter  OTPRateLimiter
}

func NewOTPService(
	logger *zap.Logger,
	profiles repository.ProfileRepository,
	sessions repository.OTPSessionRepository,
	sender telegram.Sender,
	limiter OTPRateLimiter,
) *OTPService {
	if limiter == nil {
		limiter = NewOTPRateLimiter(otpSessionTTL, 3)
	}
	return &OTPService{
		logger:   logger,
		profiles: profiles,
		sessions: sessions,
		sender:   sender,
		limiter:  limiter,
	}
}

// LoginChallenge es lo unico que ve el cliente web: el codigo viaja
// exclusivamente por Telegram.
type LoginChallenge struct {
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ResolveIdentifier mapea un identificador libre a un perfil. Prioridad:
// solo digitos -> telegram id (propio o vinculado); prefijo @ -> username;
// resto -> username o email en una sola consulta, gana la primera fila.
func (s *OTPService) ResolveIdentifier(ctx context.Context, identifier string) (domain.Profile, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return domain.Profile{}, ErrProfileNotFound
	}

	var (
		profile domain.Profile
		err     error
	)
	switch {
	case allDigits(identifier):
		var telegramID int64
		telegramID, err = strconv.ParseInt(identifier, 10, 64)
		if err != nil {
			return domain.Profile{}, ErrProfileNotFound
		}
		profile, err = s.profiles.GetByTelegramID(ctx, telegramID)
	case strings.HasPrefix(identifier, "@"):
		profile, err = s.profiles.GetByUsername(ctx, identifier[1:])
	default:
		profile, err = s.profiles.GetByUsernameOrEmail(ctx, identifier)
	}

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Profile{}, ErrProfileNotFound
		}
		return domain.Profile{}, err
	}
	return profile, nil
}

// RequestLogin resuelve el identificador, crea una sesion OTP nueva y
// entrega el codigo por Telegram. El codigo en claro vive solo dentro de
// esta llamada: no se loguea ni se devuelve al cliente web.
func (s *OTPService) RequestLogin(ctx context.Context, identifier string) (LoginChallenge, error) {
	profile, err := s.ResolveIdentifier(ctx, identifier)
	if err != nil {
		return LoginChallenge{}, err
	}

	if s.limiter != nil && !s.limiter.Allow(limiterKey(identifier)) {
		return LoginChallenge{}, ErrRateLimited
	}

	code, err := generateLoginCode()
	if err != nil {
		return LoginChallenge{}, err
	}
	sessionID, err := newSessionID()
	if err != nil {
		return LoginChallenge{}, err
	}

	expiresAt := time.Now().UTC().Add(otpSessionTTL)
	session, err := s.sessions.Create(ctx, profile.ID, sessionID, hashLoginCode(code), expiresAt)
	if err != nil {
		return LoginChallenge{}, err
	}

	if s.sender == nil {
		return LoginChallenge{}, ErrDeliveryFailed
	}
	if err := s.sender.SendLoginCode(ctx, profile.TelegramID, code, session.ExpiresAt); err != nil {
		if s.logger != nil {
			s.logger.Warn("send login code failed", zap.Error(err), zap.String("profile_id", profile.ID))
		}
		return LoginChallenge{}, ErrDeliveryFailed
	}

	return LoginChallenge{SessionID: session.SessionID, ExpiresAt: session.ExpiresAt}, nil
}

// VerifyCode compara el hash del codigo recibido contra la sesion y decide
// entre exito, fallo uniforme o error de almacenamiento. Cada llamada
// consume una unidad del presupuesto de intentos cuando falla.
func (s *OTPService) VerifyCode(ctx context.Context, sessionID, code string) (domain.Profile, error) {
	sessionID = strings.TrimSpace(sessionID)
	code = strings.TrimSpace(code)
	if sessionID == "" {
		return domain.Profile{}, ErrVerificationFailed
	}
	if !isValidLoginCode(code) {
		// Forma invalida: cuenta igual contra el presupuesto.
		return domain.Profile{}, s.failAttempt(ctx, sessionID, "malformed code")
	}

	session, err := s.sessions.GetBySessionIDAndHash(ctx, sessionID, hashLoginCode(code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Codigo incorrecto, sesion desconocida o expirada: el caller
			// recibe lo mismo en los tres casos.
			return domain.Profile{}, s.failAttempt(ctx, sessionID, "no matching session")
		}
		return domain.Profile{}, err
	}

	if session.Exhausted() {
		// El hash coincidio pero el presupuesto ya estaba agotado: fallo
		// terminal, no exito tardio.
		return domain.Profile{}, s.failAttempt(ctx, sessionID, "attempts exhausted")
	}

	if _, err := s.sessions.MarkVerified(ctx, sessionID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Profile{}, ErrVerificationFailed
		}
		return domain.Profile{}, err
	}

	profile, err := s.profiles.GetByID(ctx, session.UserID)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("loading profile for verified session: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("otp session verified",
			zap.String("session_id", sessionID),
			zap.String("profile_id", profile.ID),
		)
	}
	return profile, nil
}

// failAttempt incrementa el contador de la sesion con el lookup por id
// (sin filtro de hash: un codigo incorrecto tambien consume presupuesto).
// Si la fila ya no existe el sweep gano la carrera y no pasa nada.
func (s *OTPService) failAttempt(ctx context.Context, sessionID, reason string) error {
	session, err := s.sessions.GetBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrVerificationFailed
		}
		return err
	}

	updated, err := s.sessions.IncrementAttempts(ctx, sessionID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	if s.logger != nil {
		attempts := session.Attempts + 1
		if err == nil {
			attempts = updated.Attempts
		}
		s.logger.Info("otp verification failed",
			zap.String("session_id", sessionID),
			zap.String("reason", reason),
			zap.Int("attempts", attempts),
			zap.Int("max_attempts", session.MaxAttempts),
		)
	}
	return ErrVerificationFailed
}

// CleanupExpired borra todas las sesiones cuyo expires_at ya paso,
// verificadas o no. Pensado para correr en un ticker, nunca dentro de un
// request de usuario.
func (s *OTPService) CleanupExpired(ctx context.Context) (int64, error) {
	removed, err := s.sessions.DeleteExpired(ctx)
	if err != nil {
		return 0, err
	}
	if removed > 0 && s.logger != nil {
		s.logger.Info("expired otp sessions removed", zap.Int64("count", removed))
	}
	return removed, nil
}

// generateLoginCode produce 6 digitos decimales, uniforme en
// 100000..999999. El primer digito nunca es cero: 100000 + n*900000 es la
// construccion original y se conserva.
func generateLoginCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(100000+n.Int64(), 10), nil
}

// hashLoginCode es sha256 hex sin salt: la verificacion es igualdad de
// digest contra una unica sesion de vida corta y tres intentos.
func hashLoginCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// newSessionID genera el token opaco que identifica la sesion hacia afuera.
func newSessionID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func isValidLoginCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func limiterKey(identifier string) string {
	key := strings.ToLower(strings.TrimSpace(identifier))
	return strings.TrimPrefix(key, "@")
}
