package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

// Token exchange
//
//	@Summary		Exchange an API key for a bearer token
//	@Description	The key is checked against the configured bcrypt hashes
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		TokenRequest	true	"API key payload"
//	@Success		200		{object}	TokenResponse
//	@Failure		400		{object}	HTTPError
//	@Failure		401		{object}	HTTPError
//	@Failure		500		{object}	HTTPError
//	@Router			/api/auth/token [post]
func (s *Server) issueToken(c echo.Context) error {
	var req TokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	key := strings.TrimSpace(req.APIKey)
	if key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "api_key is required")
	}
	if s.cfg.JWTSecret == "" {
		return echo.NewHTTPError(http.StatusInternalServerError, "jwt secret not configured")
	}
	for _, hash := range s.cfg.APIKeyHashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil {
			signed, err := signToken([]byte(s.cfg.JWTSecret), s.cfg.TokenTTL)
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
			}
			return c.JSON(http.StatusOK, TokenResponse{Token: signed, ExpiresIn: int64(s.cfg.TokenTTL / time.Second)})
		}
	}
	return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
}

func signToken(secret []byte, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": "api",
		"exp": time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// authMiddleware guards the API group with bearer-token checks.
func authMiddleware(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := bearerToken(c)
			if raw == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
			}
			token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				return secret, nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			return next(c)
		}
	}
}

func bearerToken(c echo.Context) string {
	h := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
