package transport

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pitabwire/coachbuilder/internal/config"
	"github.com/pitabwire/coachbuilder/internal/observability"
	"github.com/pitabwire/coachbuilder/model"
)

// Authenticator turns a bearer token into the author making the request.
// Errors that are a *model.ErrorEnvelope are written as-is; anything else
// becomes a generic 401.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.RequestContext, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, token string) (*model.RequestContext, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, token string) (*model.RequestContext, error) {
	return f(ctx, token)
}

// RequireAuthor resolves the bearer token on every request and stores the
// author in the context. Sessions and publishing are tenant scoped, so a
// token without a subject and a tenant is rejected here.
func RequireAuthor(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				WriteError(w, model.NewUnauthorizedError("Missing authorization header"))
				return
			}
			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				WriteError(w, model.NewUnauthorizedError("Invalid authorization header format"))
				return
			}
			if a == nil {
				WriteError(w, model.NewUnauthorizedError("Authentication is not configured"))
				return
			}

			author, err := a.Authenticate(r.Context(), token)
			if err != nil {
				var env *model.ErrorEnvelope
				if !errors.As(err, &env) {
					env = model.NewUnauthorizedError("Invalid token")
				}
				WriteError(w, env)
				return
			}
			if err := author.Validate(); err != nil {
				WriteError(w, model.NewUnauthorizedError("Token is missing required identity claims"))
				return
			}

			rctx := *author
			rctx.CorrelationID = CorrelationIDFrom(r.Context())
			rctx.TraceID = observability.TraceIDFromContext(r.Context())
			rctx.SpanID = observability.SpanIDFromContext(r.Context())
			rctx.Locale = r.Header.Get("Accept-Language")
			trace.SpanFromContext(r.Context()).SetAttributes(
				observability.AttrTenantID.String(rctx.TenantID),
				observability.AttrSubjectID.String(rctx.SubjectID),
			)
			next.ServeHTTP(w, r.WithContext(model.WithRequestContext(r.Context(), &rctx)))
		})
	}
}

// JWTAuthenticator verifies RSA-signed access tokens from the identity
// provider and maps their claims to an author.
type JWTAuthenticator struct {
	cfg    config.IdentityConfig
	keys   *KeySet
	parser *jwt.Parser
	logger *zap.Logger
}

// NewJWTAuthenticator returns an authenticator that checks issuer, audience
// and expiry, and resolves signing keys through keys.
func NewJWTAuthenticator(cfg config.IdentityConfig, keys *KeySet, logger *zap.Logger) *JWTAuthenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JWTAuthenticator{
		cfg:  cfg,
		keys: keys,
		parser: jwt.NewParser(
			jwt.WithValidMethods(cfg.Algorithms),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithAudience(cfg.Audience),
			jwt.WithLeeway(30*time.Second),
			jwt.WithExpirationRequired(),
		),
		logger: logger,
	}
}

func (a *JWTAuthenticator) Authenticate(ctx context.Context, token string) (*model.RequestContext, error) {
	claims := jwt.MapClaims{}
	_, err := a.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("%w: token has no kid", errUnknownKey)
		}
		return a.keys.Key(ctx, kid)
	})
	if err != nil {
		reason := classifyJWTError(err)
		a.logger.Debug("rejected bearer token", zap.String("reason", reason), zap.Error(err))
		return nil, model.NewUnauthorizedError(reason)
	}
	return a.author(claims), nil
}

// author reads the identity claims. A token whose scope grants publishing
// is treated as holding the publisher role.
func (a *JWTAuthenticator) author(claims jwt.MapClaims) *model.RequestContext {
	sub, _ := claims.GetSubject()
	rc := &model.RequestContext{
		SubjectID: sub,
		TenantID:  claimString(claims, a.cfg.TenantClaim),
		Email:     claimString(claims, "email"),
		Roles:     claimStrings(claims, a.cfg.RolesClaim),
	}
	if a.cfg.PublishScope != "" && slices.Contains(claimStrings(claims, "scope"), a.cfg.PublishScope) {
		rc = rc.WithRole(a.cfg.PublisherRole)
	}
	return rc
}

// claimValue follows a dotted path such as "realm_access.roles".
func claimValue(claims map[string]any, path string) any {
	if path == "" {
		return nil
	}
	var cur any = claims
	for part := range strings.SplitSeq(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		if cur, ok = m[part]; !ok {
			return nil
		}
	}
	return cur
}

func claimString(claims map[string]any, path string) string {
	s, _ := claimValue(claims, path).(string)
	return s
}

// claimStrings accepts a JSON array or an OAuth style space separated list.
func claimStrings(claims map[string]any, path string) []string {
	switch v := claimValue(claims, path).(type) {
	case string:
		return strings.Fields(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	}
	return nil
}

var errUnknownKey = errors.New("jwks: unknown signing key")

// KeySet caches the identity provider's RSA signing keys by kid. A kid
// that is not cached triggers a refetch, at most once per minRefetch, so
// forged kids cannot be used to hammer the provider.
type KeySet struct {
	url        string
	ttl        time.Duration
	minRefetch time.Duration
	client     *http.Client
	logger     *zap.Logger

	mu      sync.Mutex
	keys    map[string]*rsa.PublicKey
	fetched time.Time
}

// NewKeySet returns a KeySet backed by the JWKS document at url.
func NewKeySet(url string, ttl time.Duration, logger *zap.Logger) *KeySet {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeySet{
		url:        url,
		ttl:        ttl,
		minRefetch: 5 * time.Minute,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// Key returns the signing key for kid.
func (ks *KeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	key, cached := ks.keys[kid]
	age := time.Since(ks.fetched)
	if cached && age < ks.ttl {
		return key, nil
	}
	if !cached && ks.keys != nil && age < ks.minRefetch {
		return nil, fmt.Errorf("%w %q", errUnknownKey, kid)
	}

	if err := ks.refreshLocked(ctx); err != nil {
		if cached {
			ks.logger.Warn("jwks refresh failed, serving stale key", zap.String("kid", kid), zap.Error(err))
			return key, nil
		}
		return nil, err
	}
	if key, ok := ks.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w %q", errUnknownKey, kid)
}

// Refresh fetches the key set now. The service calls it at startup so a
// misconfigured provider shows up in the logs before the first request.
func (ks *KeySet) Refresh(ctx context.Context) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return ks.refreshLocked(ctx)
}

func (ks *KeySet) refreshLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ks.url, nil)
	if err != nil {
		return fmt.Errorf("jwks: %w", err)
	}
	resp, err := ks.client.Do(req)
	if err != nil {
		return fmt.Errorf("jwks: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks: fetch: status %d", resp.StatusCode)
	}

	var doc struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&doc); err != nil {
		return fmt.Errorf("jwks: decode: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, jwk := range doc.Keys {
		if jwk.Kid == "" || jwk.Kty != "RSA" || (jwk.Use != "" && jwk.Use != "sig") {
			continue
		}
		key, err := jwk.rsaKey()
		if err != nil {
			ks.logger.Warn("jwks: skipping key", zap.String("kid", jwk.Kid), zap.Error(err))
			continue
		}
		keys[jwk.Kid] = key
	}
	ks.keys = keys
	ks.fetched = time.Now()
	return nil
}

type jsonWebKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (k jsonWebKey) rsaKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil || len(n) == 0 {
		return nil, fmt.Errorf("bad modulus")
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil || len(e) == 0 || len(e) > 4 {
		return nil, fmt.Errorf("bad exponent")
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: int(new(big.Int).SetBytes(e).Int64()),
	}, nil
}

// classifyJWTError maps a verification failure to a client-safe message.
func classifyJWTError(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "Token expired"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "Invalid token issuer"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "Invalid token audience"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "Token is missing a required claim"
	case errors.Is(err, errUnknownKey):
		return "Unknown signing key"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "Invalid token signature"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "Token cannot be verified"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "Malformed token"
	default:
		return "Invalid token"
	}
}
