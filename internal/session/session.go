// Package session mints and validates signed session credentials. A
// credential carries no mutable state; no revocation list is maintained and
// the short TTL is the mitigation for compromised tokens.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"trustgate/internal/audit"
	"trustgate/internal/platform/metrics"
	"trustgate/pkg/domain"
	dErrors "trustgate/pkg/domain-errors"
	"trustgate/pkg/requestcontext"
)

// Claims are the JWT claims carried by a session credential.
type Claims struct {
	Role     domain.Role `json:"role"`
	TenantID string      `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}

// Credential is the validated view handed to callers.
type Credential struct {
	SubjectID string
	Role      domain.Role
	TenantID  string
	JTI       string
	ExpiresAt time.Time
}

// Issuer mints and validates HS256-signed session credentials.
type Issuer struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	ledger     *audit.Ledger
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures the Issuer.
type Option func(*Issuer)

func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) { i.ttl = ttl }
}

func WithLogger(logger *slog.Logger) Option {
	return func(i *Issuer) { i.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Issuer) { i.metrics = m }
}

// New constructs an Issuer. The ledger is required so every mint is audited.
func New(signingKey, issuerName string, ledger *audit.Ledger, opts ...Option) (*Issuer, error) {
	if signingKey == "" {
		return nil, errors.New("signing key is required")
	}
	if ledger == nil {
		return nil, errors.New("ledger is required")
	}
	iss := &Issuer{
		signingKey: []byte(signingKey),
		issuer:     issuerName,
		ttl:        60 * time.Minute,
		ledger:     ledger,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(iss)
	}
	return iss, nil
}

// Issue mints a signed credential for the subject. TenantID is set when the
// role is CEO or the session is scoped to a tenant.
func (i *Issuer) Issue(ctx context.Context, subjectID string, role domain.Role, tenantID string) (string, error) {
	if subjectID == "" {
		return "", dErrors.New(dErrors.CodeBadRequest, "subject_id is required")
	}
	if !role.Valid() {
		return "", dErrors.New(dErrors.CodeBadRequest, "unknown role")
	}

	now := requestcontext.Now(ctx)
	jti := uuid.NewString()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:     role,
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        jti,
		},
	})

	signed, err := token.SignedString(i.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "could not sign credential")
	}

	if i.metrics != nil {
		i.metrics.SessionsIssued.Inc()
	}
	i.ledger.Record(ctx, audit.Event{
		ActorSubjectID: subjectID,
		Action:         audit.ActionSessionIssued,
		ResourceType:   "session",
		ResourceID:     jti,
		Status:         audit.StatusSuccess,
		TenantID:       tenantID,
		Details:        map[string]string{"role": string(role)},
	})
	return signed, nil
}

// Validate checks signature and expiry together. Expired credentials are
// distinguishable from structurally invalid ones; every other problem maps
// to the same invalid result.
func (i *Issuer) Validate(token string) (*Credential, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return i.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeExpired, "credential has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid credential")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid credential")
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return &Credential{
		SubjectID: claims.Subject,
		Role:      claims.Role,
		TenantID:  claims.TenantID,
		JTI:       claims.ID,
		ExpiresAt: expiresAt,
	}, nil
}
