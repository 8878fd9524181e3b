package guardian

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrEthical07/guardian/authz"
)

// Authorize decides whether the holder of claims may perform action on ref.
//
// The resource's owner is resolved and, for professionals, the grant on the
// owning child is fetched on every call, so a revoked grant takes effect on
// the next request. Any lookup failure or cancellation returns
// ErrDependencyUnavailable and no decision.
func (e *Engine) Authorize(ctx context.Context, claims *Claims, ref ResourceRef, action Action) (authz.Decision, error) {
	if e == nil {
		return authz.Decision{}, ErrEngineNotReady
	}
	if claims == nil {
		return authz.Decision{Effect: authz.Deny, Reason: authz.ReasonInvalidSubject}, nil
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricAuthorizeLatency, time.Since(start)) }()
	}
	if err := ctx.Err(); err != nil {
		return authz.Decision{}, unavailable(err)
	}

	scope, err := e.directory.ResolveScope(ctx, ref)
	if err != nil {
		return authz.Decision{}, e.dependencyFailure(ctx, "resolve_scope", err,
			slog.String("user_id", claims.Subject), slog.String("class", ref.Class))
	}

	var grant *authz.Grant
	if claims.Role == RoleProfessional && scope.Exists && scope.ChildID != "" && scope.OwnerID != claims.Subject {
		g, err := e.grants.GetAccessGrant(ctx, claims.Subject, scope.ChildID)
		if err != nil {
			return authz.Decision{}, e.dependencyFailure(ctx, "get_access_grant", err,
				slog.String("user_id", claims.Subject))
		}
		if g != nil {
			grant = &authz.Grant{
				ProfessionalID: g.ProfessionalID,
				ChildID:        g.ChildID,
				GrantedAt:      g.GrantedAt,
				RevokedAt:      g.RevokedAt,
			}
		}
	}

	d := authz.Decide(authz.Input{
		Subject:   authz.Subject{ID: claims.Subject, Role: claims.Role},
		Action:    action,
		Scope:     scope,
		Grant:     grant,
		Permitted: e.table.Permits(claims.Role, action),
		Policy:    e.config.Authorization.policyFor(ref.Class),
		Now:       e.now(),
	})

	switch d.Effect {
	case authz.Allow:
		e.metricInc(MetricAuthzAllow)
	case authz.NotFound:
		e.metricInc(MetricAuthzNotFound)
	default:
		e.metricInc(MetricAuthzDeny)
	}
	e.emitAudit(ctx, auditEventAuthzDecision, d.Allowed(), claims.Subject, "", nil, func() map[string]string {
		return map[string]string{
			"class":    ref.Class,
			"resource": ref.ID,
			"action":   string(action),
			"effect":   d.Effect.String(),
			"reason":   d.Reason,
		}
	})
	return d, nil
}

// Require is Authorize as an error: nil on Allow, ErrPermissionDenied on
// Deny and ErrNotFound on NotFound.
func (e *Engine) Require(ctx context.Context, claims *Claims, ref ResourceRef, action Action) error {
	d, err := e.Authorize(ctx, claims, ref, action)
	if err != nil {
		return err
	}
	switch d.Effect {
	case authz.Allow:
		return nil
	case authz.NotFound:
		return ErrNotFound
	default:
		return ErrPermissionDenied
	}
}
