package rpc

import (
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"cipherlend/crypto"
)

// AuthConfig controls bearer token validation. An empty Secret disables
// authentication entirely, which is only suitable for local development.
type AuthConfig struct {
	Secret    string
	Issuer    string
	Operators []string
	ClockSkew time.Duration
}

type principal struct {
	subject  string
	operator bool
}

type authenticator struct {
	secret    []byte
	issuer    string
	operators map[string]struct{}
	skew      time.Duration
}

func newAuthenticator(cfg AuthConfig) *authenticator {
	a := &authenticator{
		secret:    []byte(strings.TrimSpace(cfg.Secret)),
		issuer:    strings.TrimSpace(cfg.Issuer),
		operators: make(map[string]struct{}, len(cfg.Operators)),
		skew:      cfg.ClockSkew,
	}
	if a.skew <= 0 {
		a.skew = 2 * time.Minute
	}
	for _, op := range cfg.Operators {
		if op = strings.TrimSpace(op); op != "" {
			a.operators[op] = struct{}{}
		}
	}
	return a
}

func (a *authenticator) enabled() bool { return a != nil && len(a.secret) > 0 }

func extractBearer(header string) string {
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// authenticate validates the request's bearer token.
func (a *authenticator) authenticate(r *http.Request) (*principal, *RPCError) {
	if !a.enabled() {
		return &principal{operator: true}, nil
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, &RPCError{Code: CodeUnauthorized, Message: "missing Authorization header"}
	}
	token := extractBearer(header)
	if token == "" {
		return nil, &RPCError{Code: CodeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	claims, err := a.parseToken(token)
	if err != nil {
		return nil, &RPCError{Code: CodeUnauthorized, Message: "invalid token", Data: err.Error()}
	}
	subject, _ := claims.GetSubject()
	if subject == "" {
		return nil, &RPCError{Code: CodeUnauthorized, Message: "token subject required"}
	}
	_, operator := a.operators[subject]
	return &principal{subject: subject, operator: operator}, nil
}

func (a *authenticator) parseToken(token string) (jwt.MapClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.skew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("token invalid")
	}
	return claims, nil
}

// authorizeAccount allows operators and the account's own subject.
func (p *principal) authorizeAccount(account crypto.Address) *RPCError {
	if p.operator || p.subject == account.String() {
		return nil
	}
	return &RPCError{Code: CodeForbidden, Message: "token subject does not match account"}
}

// IssueToken signs an HS256 token for subject. It is used by tooling and
// tests that need credentials for a configured secret.
func IssueToken(secret, issuer, subject string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("auth secret required")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if issuer != "" {
		claims.Issuer = issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(strings.TrimSpace(secret)))
}
