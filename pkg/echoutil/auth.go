package echoutil

import (
	"errors"
	"strings"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	apierr "github.com/AlexandreManai/ML-pipeline/pkg/api/types/errors"
)

var ErrInvalidToken = errors.New("invalid token")

// VerifyToken verifies a HS256 signed JWT, and returns its claims.
func VerifyToken(secret []byte, token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		token, claims,
		func(t *jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
	)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	return claims, nil
}

// BearerAuth requires requests to carry a token signed with secret in "Authorization: Bearer".
//
// With empty secret, it lets all requests pass.
func BearerAuth(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if len(secret) == 0 {
			return next
		}
		return func(c echo.Context) error {
			authz := c.Request().Header.Get("Authorization")
			token, ok := strings.CutPrefix(authz, "Bearer ")
			if !ok || token == "" {
				return apierr.Unauthorized(`"Authorization: Bearer <token>" is required`, nil)
			}
			claims, err := VerifyToken(secret, token)
			if err != nil {
				return apierr.Unauthorized("token is not acceptable", err)
			}
			if sub, err := claims.GetSubject(); err == nil && sub != "" {
				c.Logger().Infof("request by %s", sub)
			}
			return next(c)
		}
	}
}
