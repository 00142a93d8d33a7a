// Package auth verifies the bearer tokens Hasura accepts, using the same
// secret configuration Hasura reads from HASURA_GRAPHQL_JWT_SECRET.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	// HasuraNamespace is the claim holding Hasura's session variables.
	HasuraNamespace = "https://hasura.io/jwt/claims"
	// EseuriNamespace holds the platform's own claims.
	EseuriNamespace = "https://eseuri.com"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("expired token")
	ErrInvalidSecret = errors.New("invalid jwt secret")
)

// Claims are the Hasura session variables carried by a token.
type Claims struct {
	Subject      string
	UserID       string
	DefaultRole  string
	AllowedRoles []string
	// Registered is false until the user completed the sign-up form.
	Registered bool
	ExpiresAt  time.Time
}

type secretConfig struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

// Verifier checks token signatures against one configured key.
type Verifier struct {
	alg string
	key any
}

// ParseSecret reads a Hasura JWT secret such as
// {"type":"RS256","key":"-----BEGIN PUBLIC KEY-----..."}.
func ParseSecret(raw string) (*Verifier, error) {
	var cfg secretConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("%w: missing key", ErrInvalidSecret)
	}

	switch strings.ToUpper(cfg.Type) {
	case "RS256", "":
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.Key))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
		}
		return &Verifier{alg: jwt.SigningMethodRS256.Alg(), key: key}, nil
	case "HS256":
		return &Verifier{alg: jwt.SigningMethodHS256.Alg(), key: []byte(cfg.Key)}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported type %q", ErrInvalidSecret, cfg.Type)
	}
}

// Verify checks the signature and expiry of token and returns its Hasura
// claims.
func (v *Verifier) Verify(token string) (Claims, error) {
	parsed, err := jwt.Parse(token, func(*jwt.Token) (any, error) {
		return v.key, nil
	}, jwt.WithValidMethods([]string{v.alg}))
	if errors.Is(err, jwt.ErrTokenExpired) {
		return Claims{}, ErrExpiredToken
	}
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrInvalidToken
	}
	return hasuraClaims(mapClaims)
}

func hasuraClaims(mc jwt.MapClaims) (Claims, error) {
	raw, ok := mc[HasuraNamespace].(map[string]any)
	if !ok {
		return Claims{}, ErrInvalidToken
	}
	// Hasura matches session variable names case-insensitively.
	vars := make(map[string]any, len(raw))
	for k, v := range raw {
		vars[strings.ToLower(k)] = v
	}

	var claims Claims
	claims.Subject, _ = mc.GetSubject()
	claims.UserID, _ = vars["x-hasura-user-id"].(string)
	claims.DefaultRole, _ = vars["x-hasura-default-role"].(string)
	if roles, ok := vars["x-hasura-allowed-roles"].([]any); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok {
				claims.AllowedRoles = append(claims.AllowedRoles, s)
			}
		}
	}
	if eseuri, ok := mc[EseuriNamespace].(map[string]any); ok {
		claims.Registered, _ = eseuri["hasCompletedRegistration"].(bool)
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}

	if claims.UserID == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// IssueToken signs claims with an HS256 secret. The backend never issues
// user tokens; this serves local tooling and tests.
func IssueToken(secret []byte, claims Claims) (string, error) {
	hasura := map[string]any{
		"x-hasura-user-id":       claims.UserID,
		"x-hasura-default-role":  claims.DefaultRole,
		"x-hasura-allowed-roles": claims.AllowedRoles,
	}
	mc := jwt.MapClaims{
		"sub":           claims.Subject,
		HasuraNamespace: hasura,
		EseuriNamespace: map[string]any{"hasCompletedRegistration": claims.Registered},
	}
	if !claims.ExpiresAt.IsZero() {
		mc["exp"] = claims.ExpiresAt.Unix()
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, mc).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
