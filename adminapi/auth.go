package adminapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

type loginRequest struct {
	Token string `json:"token" binding:"required"`
}

// handleLogin exchanges the shared admin bearer token for a short-lived
// JWT. The plaintext token is compared against the configured bcrypt hash,
// never stored.
func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.TokenHash), []byte(req.Token)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   "admin",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.JWTSecret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"access_token": signed, "expires_in": int(s.cfg.TokenTTL.Seconds())})
}

// authMiddleware requires a valid bearer JWT issued by handleLogin.
func (s *Server) authMiddleware(c *gin.Context) {
	header := c.GetHeader("Authorization")
	rawToken := strings.TrimPrefix(header, "Bearer ")
	if rawToken == "" || rawToken == header {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}

	token, err := jwt.ParseWithClaims(rawToken, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.cfg.JWTSecret, nil
	})
	if err != nil || !token.Valid {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}

	c.Next()
}

// stepUpMiddleware requires a valid TOTP code on top of the bearer token,
// for mutating calls that change live trading state (spec's flatten-all /
// strategy stop). Read-only status endpoints never require it.
func (s *Server) stepUpMiddleware(c *gin.Context) {
	code := c.GetHeader("X-TOTP-Code")
	if code == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "TOTP code required for this action"})
		return
	}
	if !totp.Validate(code, s.cfg.TOTPSecret) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid TOTP code"})
		return
	}
	c.Next()
}
