// Package auth resolves a bearer credential into an AuthContext and
// checks it against an operation's required scope and task id,
// grounded on the teacher's JWTTokenManager (HMAC-signed claims parsed
// via golang-jwt/jwt/v5) generalized to Taskcast's scope/taskIds model.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/taskcast/taskcast/internal/taskengine/task"
	"github.com/taskcast/taskcast/internal/taskerr"
)

// Mode selects how a bearer credential is validated.
type Mode string

const (
	ModeNone   Mode = "none"
	ModeJWT    Mode = "jwt"
	ModeCustom Mode = "custom"
)

// JWTConfig parameterizes ModeJWT verification.
type JWTConfig struct {
	Algorithm     string
	Secret        string
	PublicKey     string
	PublicKeyFile string
	Issuer        string
	Audience      string
}

// Context is the resolved identity and entitlement of one request,
// carried through to TaskEngine calls for the scope/taskIds check.
type Context struct {
	Subject string
	TaskIDs []string // nil/["*"] means unrestricted
	Scope   []task.PermissionScope
}

// hasWildcardTaskIDs reports whether c is entitled to every task id.
func (c Context) hasWildcardTaskIDs() bool {
	for _, id := range c.TaskIDs {
		if id == "*" {
			return true
		}
	}
	return len(c.TaskIDs) == 0
}

func (c Context) hasScope(required task.PermissionScope) bool {
	for _, s := range c.Scope {
		if s == task.ScopeAll || s == required {
			return true
		}
	}
	return false
}

// Authorize reports whether c may perform an operation requiring scope
// against taskID. Returns taskerr.ErrForbidden on failure.
func Authorize(c Context, required task.PermissionScope, taskID string) error {
	if !c.hasScope(required) {
		return fmt.Errorf("%w: missing scope %s", taskerr.ErrForbidden, required)
	}
	if c.hasWildcardTaskIDs() {
		return nil
	}
	for _, id := range c.TaskIDs {
		if id == taskID {
			return nil
		}
	}
	return fmt.Errorf("%w: credential not entitled to task %s", taskerr.ErrForbidden, taskID)
}

// Resolver extracts an Context from a bearer token per the configured Mode.
type Resolver struct {
	mode   Mode
	jwtCfg JWTConfig
}

// NewResolver constructs a Resolver for mode. jwtCfg is only consulted
// when mode is ModeJWT.
func NewResolver(mode Mode, jwtCfg JWTConfig) *Resolver {
	return &Resolver{mode: mode, jwtCfg: jwtCfg}
}

// Resolve extracts a Context from the raw Authorization header value
// ("Bearer <token>"). ModeNone grants ScopeAll unconditionally, matching
// a deployment that has delegated authorization to a gateway in front of
// Taskcast. ModeCustom is a caller-supplied extension point: Resolve
// always fails for it here, since the adapter lives outside this package.
func (r *Resolver) Resolve(authorizationHeader string) (Context, error) {
	switch r.mode {
	case ModeNone:
		return Context{Scope: []task.PermissionScope{task.ScopeAll}, TaskIDs: []string{"*"}}, nil
	case ModeJWT:
		return r.resolveJWT(authorizationHeader)
	default:
		return Context{}, fmt.Errorf("%w: custom auth mode requires an external resolver", taskerr.ErrUnauthorized)
	}
}

func (r *Resolver) resolveJWT(authorizationHeader string) (Context, error) {
	raw := bearerToken(authorizationHeader)
	if raw == "" {
		return Context{}, fmt.Errorf("%w: missing bearer token", taskerr.ErrUnauthorized)
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods(validMethods(r.jwtCfg.Algorithm)))
	_, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return r.verificationKey(t)
	})
	if err != nil {
		return Context{}, fmt.Errorf("%w: %v", taskerr.ErrUnauthorized, err)
	}

	if r.jwtCfg.Issuer != "" {
		iss, _ := claims.GetIssuer()
		if iss != r.jwtCfg.Issuer {
			return Context{}, fmt.Errorf("%w: issuer mismatch", taskerr.ErrUnauthorized)
		}
	}
	if r.jwtCfg.Audience != "" {
		aud, _ := claims.GetAudience()
		if !contains(aud, r.jwtCfg.Audience) {
			return Context{}, fmt.Errorf("%w: audience mismatch", taskerr.ErrUnauthorized)
		}
	}

	sub, _ := claims.GetSubject()
	return Context{
		Subject: sub,
		TaskIDs: stringSlice(claims["taskIds"]),
		Scope:   scopeSlice(claims["scope"]),
	}, nil
}

func (r *Resolver) verificationKey(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); ok {
		if r.jwtCfg.Secret == "" {
			return nil, errors.New("jwt secret not configured")
		}
		return []byte(r.jwtCfg.Secret), nil
	}
	if r.jwtCfg.PublicKey != "" {
		return jwt.ParseRSAPublicKeyFromPEM([]byte(r.jwtCfg.PublicKey))
	}
	return nil, fmt.Errorf("unsupported signing method: %v", t.Header["alg"])
}

func validMethods(algorithm string) []string {
	if algorithm == "" {
		return []string{"HS256", "RS256"}
	}
	return []string{algorithm}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func scopeSlice(v any) []task.PermissionScope {
	raw := stringSlice(v)
	out := make([]task.PermissionScope, 0, len(raw))
	for _, s := range raw {
		out = append(out, task.PermissionScope(s))
	}
	return out
}

// RequiredScope returns the scope a given operation name requires, per
// the endpoint-to-scope table: create, manage, publish, subscribe, history.
func RequiredScope(operation string) (task.PermissionScope, error) {
	switch operation {
	case "create":
		return task.ScopeTaskCreate, nil
	case "manage":
		return task.ScopeTaskManage, nil
	case "publish":
		return task.ScopeEventPublish, nil
	case "subscribe":
		return task.ScopeEventSubscribe, nil
	case "history":
		return task.ScopeEventHistory, nil
	default:
		return "", fmt.Errorf("auth: unknown operation %q", operation)
	}
}
