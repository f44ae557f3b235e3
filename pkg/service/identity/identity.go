package identity

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/m-mizutani/comanager/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// ErrUnauthorized means the request carries no valid session
var ErrUnauthorized = goerr.New("unauthorized")

// Provider resolves the user of an inbound request
type Provider interface {
	UserID(r *http.Request) (model.UserID, error)
}

// JWT reads a signed token from the Authorization bearer header or the
// session cookie and takes the subject claim as the user id
type JWT struct {
	keyOption  func(ctx context.Context) (jwt.ParseOption, error)
	issuer     string
	audience   string
	cookieName string
}

type JWTOption func(*JWT)

func WithIssuer(issuer string) JWTOption {
	return func(j *JWT) {
		j.issuer = issuer
	}
}

func WithAudience(audience string) JWTOption {
	return func(j *JWT) {
		j.audience = audience
	}
}

func WithCookieName(name string) JWTOption {
	return func(j *JWT) {
		j.cookieName = name
	}
}

// NewHMAC verifies HS256 tokens signed with a shared secret
func NewHMAC(secret []byte, opts ...JWTOption) (*JWT, error) {
	if len(secret) == 0 {
		return nil, goerr.New("HMAC secret is empty")
	}

	opt := jwt.WithKey(jwa.HS256, secret)
	return newJWT(func(context.Context) (jwt.ParseOption, error) { return opt, nil }, opts...), nil
}

// NewJWKS verifies tokens against a JWKS endpoint. Keys are cached and
// refreshed in the background for the lifetime of ctx.
func NewJWKS(ctx context.Context, jwksURL string, opts ...JWTOption) (*JWT, error) {
	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
		return nil, goerr.Wrap(err, "failed to register JWKS URL", goerr.V("url", jwksURL))
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, goerr.Wrap(err, "failed to fetch JWKS", goerr.V("url", jwksURL))
	}

	return newJWT(func(ctx context.Context) (jwt.ParseOption, error) {
		keyset, err := cache.Get(ctx, jwksURL)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to get JWKS", goerr.V("url", jwksURL))
		}
		return jwt.WithKeySet(keyset), nil
	}, opts...), nil
}

func newJWT(keyOption func(context.Context) (jwt.ParseOption, error), opts ...JWTOption) *JWT {
	j := &JWT{
		keyOption:  keyOption,
		cookieName: "session",
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func (j *JWT) UserID(r *http.Request) (model.UserID, error) {
	raw := bearerToken(r)
	if raw == "" && j.cookieName != "" {
		if c, err := r.Cookie(j.cookieName); err == nil {
			raw = c.Value
		}
	}
	if raw == "" {
		return "", goerr.Wrap(ErrUnauthorized, "no session token")
	}

	keyOpt, err := j.keyOption(r.Context())
	if err != nil {
		return "", err
	}

	parseOpts := []jwt.ParseOption{keyOpt, jwt.WithValidate(true)}
	if j.issuer != "" {
		parseOpts = append(parseOpts, jwt.WithIssuer(j.issuer))
	}
	if j.audience != "" {
		parseOpts = append(parseOpts, jwt.WithAudience(j.audience))
	}

	token, err := jwt.Parse([]byte(raw), parseOpts...)
	if err != nil {
		return "", goerr.Wrap(ErrUnauthorized, "invalid session token", goerr.V("error", err.Error()))
	}
	if token.Subject() == "" {
		return "", goerr.Wrap(ErrUnauthorized, "session token has no subject")
	}

	return model.UserID(token.Subject()), nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// Static resolves every request to one user. It serves local runs of the
// chat command where no session exists.
type Static model.UserID

func (s Static) UserID(r *http.Request) (model.UserID, error) {
	if s == "" {
		return "", goerr.Wrap(ErrUnauthorized, "no static user")
	}
	return model.UserID(s), nil
}
