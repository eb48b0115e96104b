package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"thirdcoast.systems/reelwatch/cmd/web/handlers/common"
)

// SubjectKey is the echo context key holding the authenticated token subject.
const SubjectKey = "apiSubject"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrNoSecret     = errors.New("API_JWT_SECRET is not configured")
)

// Verifier validates HS256 bearer tokens for the API.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
			jwt.WithLeeway(30*time.Second),
			jwt.WithExpirationRequired(),
		),
	}
}

// Verify parses tokenString and returns its claims.
func (v *Verifier) Verify(tokenString string) (*jwt.RegisteredClaims, error) {
	if len(v.secret) == 0 {
		return nil, ErrNoSecret
	}

	tok, err := v.parser.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected alg: %s", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := tok.Claims.(*jwt.RegisteredClaims)
	if !ok || !tok.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// token subject under SubjectKey.
func (v *Verifier) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, err := bearerToken(c.Request())
			if err != nil {
				return common.ErrUnauthorized(err.Error())
			}
			claims, err := v.Verify(raw)
			if err != nil {
				if errors.Is(err, ErrNoSecret) {
					return echo.NewHTTPError(http.StatusServiceUnavailable, "api is disabled")
				}
				return common.ErrUnauthorized("invalid token")
			}
			c.Set(SubjectKey, claims.Subject)
			return next(c)
		}
	}
}

func bearerToken(r *http.Request) (string, error) {
	h := strings.TrimSpace(r.Header.Get(echo.HeaderAuthorization))
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}

// Sign issues an HS256 token for subject valid for ttl.
func Sign(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "reelwatch",
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return tok.SignedString([]byte(secret))
}
