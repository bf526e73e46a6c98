package echoapi

import (
	"strconv"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/account"
)

const (
	contextTokenKey     = "userToken"
	contextPrincipalKey = "principal"
	jwtAudience         = "Academia"
)

// Claims represents the authorization claims transmitted via a JWT. Subject is the account ID.
type Claims struct {
	jwt.StandardClaims
	OrigIssuedAt int64  `json:"oriat,omitempty"`
	Email        string `json:"email,omitempty"`
	Role         string `json:"role,omitempty"`
	IsAdmin      bool   `json:"is_admin,omitempty"`
}

// NewClaims returns the claims of reg. They only describe the account: authorization is decided per request.
func NewClaims(reg account.Registration, conf *core.Config, origIat ...int64) *Claims {
	now := time.Now()
	oriat := now.Unix()
	if len(origIat) > 0 {
		oriat = origIat[0]
	}

	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    conf.AppName,
			Subject:   strconv.FormatInt(reg.ID, 10),
			Audience:  jwtAudience,
			ExpiresAt: now.Add(conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  now.Unix(),
		},
		OrigIssuedAt: oriat,
		Email:        reg.Email,
		Role:         string(reg.Role),
		IsAdmin:      reg.IsAdmin(),
	}
}

// GenerateToken generates a signed JWT token string representing the Claims.
func GenerateToken(secretKey string, claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString([]byte(secretKey))
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func newJWTConfig(secretKey string) middleware.JWTConfig {
	return middleware.JWTConfig{
		SigningKey:    []byte(secretKey),
		SigningMethod: middleware.AlgorithmHS256,
		ContextKey:    contextTokenKey,
		Claims:        new(Claims),
	}
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(contextTokenKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthenticated
}

// getPrincipalID returns the account ID the request is authenticated as.
func getPrincipalID(ctx echo.Context) (int64, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, errUnauthenticated
	}
	return id, nil
}

// getContextPrincipal returns the principal resolved by guardMiddleware, resolving it when absent.
func getContextPrincipal(ctx echo.Context, registrar *account.Registrar) (account.Registration, error) {
	if reg, ok := ctx.Get(contextPrincipalKey).(account.Registration); ok {
		return reg, nil
	}

	id, err := getPrincipalID(ctx)
	if err != nil {
		return account.Registration{}, err
	}
	reg, err := registrar.Get(ctx.Request().Context(), id)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return account.Registration{}, errUnauthenticated
		}
		return account.Registration{}, errors.Wrap(err, "finding principal")
	}
	ctx.Set(contextPrincipalKey, reg)
	return reg, nil
}
