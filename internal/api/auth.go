package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"
)

// MinSecretLen is the shortest HMAC secret accepted.
const MinSecretLen = 32

var (
	// ErrNoToken is returned when the request carries no bearer token.
	ErrNoToken = eris.New("api: no bearer token")
	// ErrShortSecret is returned for secrets under MinSecretLen bytes.
	ErrShortSecret = eris.New("api: jwt secret must be at least 32 bytes")
)

// Authenticator resolves the caller of a request to a user id.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// JWTAuthenticator validates HS256 bearer tokens and takes the user id from
// the subject claim.
type JWTAuthenticator struct {
	secret   []byte
	issuer   string
	audience string
}

// JWTOption configures a JWTAuthenticator.
type JWTOption func(*JWTAuthenticator)

// WithIssuer requires the iss claim to equal iss.
func WithIssuer(iss string) JWTOption {
	return func(a *JWTAuthenticator) { a.issuer = iss }
}

// WithAudience requires aud to contain aud.
func WithAudience(aud string) JWTOption {
	return func(a *JWTAuthenticator) { a.audience = aud }
}

// NewJWTAuthenticator creates an authenticator for secret.
func NewJWTAuthenticator(secret string, opts ...JWTOption) (*JWTAuthenticator, error) {
	if len(secret) < MinSecretLen {
		return nil, ErrShortSecret
	}
	a := &JWTAuthenticator{secret: []byte(secret)}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Authenticate parses the Authorization bearer token. Only HS256 is
// accepted and tokens must carry an expiry.
func (a *JWTAuthenticator) Authenticate(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return "", ErrNoToken
	}
	raw := strings.TrimSpace(h[7:])
	if raw == "" {
		return "", ErrNoToken
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if a.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(a.audience))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, parserOpts...)
	if err != nil {
		return "", eris.Wrap(err, "api: invalid token")
	}
	if !token.Valid || claims.Subject == "" {
		return "", eris.New("api: token has no subject")
	}
	return claims.Subject, nil
}

// IssueToken signs a token for userID valid for ttl.
func (a *JWTAuthenticator) IssueToken(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if a.audience != "" {
		claims.Audience = jwt.ClaimStrings{a.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	return signed, eris.Wrap(err, "api: sign token")
}

type userKey struct{}

// withUser stores the authenticated user id; an empty id means anonymous.
func withUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserID returns the authenticated user of ctx, or "".
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}
