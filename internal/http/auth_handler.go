package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vpn-miniapp/internal/repository"
	"vpn-miniapp/internal/service"
)

// AuthHandler mantiene dependencias para los endpoints de login por OTP.
type AuthHandler struct {
	logger   *zap.Logger
	otpServ  *service.OTPService
	jwtServ  *service.JWTService
	profiles repository.ProfileRepository
}

// NewAuthHandler crea una instancia de AuthHandler con sus dependencias.
func NewAuthHandler(logger *zap.Logger, otpServ *service.OTPService, jwtServ *service.JWTService, profiles repository.ProfileRepository) *AuthHandler {
	return &AuthHandler{
		logger:   logger,
		otpServ:  otpServ,
		jwtServ:  jwtServ,
		profiles: profiles,
	}
}

// RequestOTP maneja POST /auth/request-otp.
func (h *AuthHandler) RequestOTP(c *gin.Context) {
	var req struct {
		Identifier string `json:"identifier" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid request otp payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	challenge, err := h.otpServ.RequestLogin(c.Request.Context(), req.Identifier)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrProfileNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		case errors.Is(err, service.ErrRateLimited):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
		case errors.Is(err, service.ErrDeliveryFailed):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "code delivery unavailable"})
		default:
			h.logger.Error("request otp failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not request otp"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": challenge.SessionID,
		"expires_at": challenge.ExpiresAt,
	})
}

// VerifyOTP maneja POST /auth/verify-otp. Todo fallo de verificacion sale
// como el mismo 401: el cliente no puede distinguir codigo incorrecto,
// sesion desconocida, expirada o agotada.
func (h *AuthHandler) VerifyOTP(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id" binding:"required"`
		Code      string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid verify otp payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	profile, err := h.otpServ.VerifyCode(c.Request.Context(), req.SessionID, req.Code)
	if err != nil {
		if errors.Is(err, service.ErrVerificationFailed) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "verification failed"})
			return
		}
		h.logger.Error("verify otp failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not verify otp"})
		return
	}

	tokens, err := h.jwtServ.GeneratePair(profile)
	if err != nil {
		h.logger.Error("jwt issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue tokens"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": profile, "tokens": tokens})
}

// RefreshToken maneja POST /auth/refresh.
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid refresh payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	tokens, err := h.jwtServ.RefreshPair(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

// Logout maneja POST /auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := h.jwtServ.RevokeRefresh(req.RefreshToken); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

// Me maneja GET /profile/me (protegido por JWT).
func (h *AuthHandler) Me(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	profile, err := h.profiles.GetByID(c.Request.Context(), claims.ProfileID)
	if err != nil {
		h.logger.Error("load profile failed", zap.Error(err), zap.String("profile_id", claims.ProfileID))
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": profile})
}
