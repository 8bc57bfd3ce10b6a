package trust

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/astroline/platform/gateway/internal/tenancy"
)

// HeaderTenant is only trusted when the caller is verified-internal.
const HeaderTenant = "X-Tenant-ID"

// Source records where a resolved tenant came from.
type Source string

const (
	SourceJWT     Source = "jwt"
	SourceHeader  Source = "header"
	SourceDefault Source = "default"
)

// Decision is the immutable result of resolving a request's tenant.
type Decision struct {
	Tenant string
	Source Source
	Spoof  bool
}

// Claims is the accepted token shape. The tenant_id claim wins over the
// legacy tenant attribute when both are present.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id"`
	Tenant   string `json:"tenant"`
}

// Resolver extracts an authenticated tenant from a request. It never fails:
// absent or malformed inputs degrade to the default tenant.
type Resolver struct {
	verifier      *InternalVerifier
	jwtSecret     []byte
	defaultTenant string
	spoof         *prometheus.CounterVec
	logger        zerolog.Logger
	trace         TraceFunc
	route         func(string) string
}

// ResolverConfig carries the explicit dependencies of a Resolver.
type ResolverConfig struct {
	Verifier      *InternalVerifier
	JWTSecret     []byte
	DefaultTenant string
	Spoof         *prometheus.CounterVec
	Logger        zerolog.Logger
	Trace         TraceFunc
	// Route normalizes a path before it is used as a metric label.
	Route func(string) string
}

func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.DefaultTenant == "" {
		cfg.DefaultTenant = tenancy.DefaultTenant
	}
	if cfg.Trace == nil {
		cfg.Trace = headerTrace
	}
	if cfg.Route == nil {
		cfg.Route = func(path string) string { return path }
	}
	return &Resolver{
		verifier:      cfg.Verifier,
		jwtSecret:     cfg.JWTSecret,
		defaultTenant: cfg.DefaultTenant,
		spoof:         cfg.Spoof,
		logger:        cfg.Logger,
		trace:         cfg.Trace,
		route:         cfg.Route,
	}
}

// Resolve applies JWT-over-header precedence. A JWT tenant always wins; a
// contradicting X-Tenant-ID from external traffic marks the decision as a
// spoof attempt but never changes the returned tenant. Internal traffic may
// set the tenant via header only when no JWT tenant exists.
func (rs *Resolver) Resolve(r *http.Request) Decision {
	jwtTenant := rs.tenantFromToken(r)
	headerTenant := strings.TrimSpace(r.Header.Get(HeaderTenant))

	if jwtTenant != "" {
		decision := Decision{Tenant: jwtTenant, Source: SourceJWT}
		// Raw comparison: a header that differs even in case or form is an
		// operator signal worth flagging, only the byte-identical id is a
		// clean echo. The returned tenant is unaffected either way.
		if headerTenant != "" && headerTenant != jwtTenant && !rs.isInternal(r) {
			decision.Spoof = true
			route := rs.route(r.URL.Path)
			if rs.spoof != nil {
				rs.spoof.WithLabelValues(route).Inc()
			}
			rs.logger.Warn().
				Str("route", route).
				Str("jwt_tenant", jwtTenant).
				Str("header_tenant", headerTenant).
				Str("trace_id", rs.trace(r)).
				Msg("tenant header contradicts token tenant")
		}
		return decision
	}

	if headerTenant != "" && rs.isInternal(r) {
		return Decision{
			Tenant: tenancy.Normalize(headerTenant, rs.defaultTenant),
			Source: SourceHeader,
		}
	}

	return Decision{Tenant: rs.defaultTenant, Source: SourceDefault}
}

func (rs *Resolver) isInternal(r *http.Request) bool {
	return rs.verifier != nil && rs.verifier.Verify(r)
}

// tenantFromToken returns the normalized tenant from a valid bearer token,
// or "" when no usable token is present.
func (rs *Resolver) tenantFromToken(r *http.Request) string {
	if len(rs.jwtSecret) == 0 {
		return ""
	}
	authorization := r.Header.Get("Authorization")
	if authorization == "" {
		return ""
	}
	tokenString, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok {
		return ""
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return rs.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return ""
	}
	raw := claims.TenantID
	if raw == "" {
		raw = claims.Tenant
	}
	if raw == "" {
		return ""
	}
	return tenancy.Normalize(raw, rs.defaultTenant)
}
