package context

import (
	"context"

	"readiness/internal/platform/auth"
	"readiness/internal/platform/models"
	"readiness/internal/platform/ratelimit"
)

type Key string

const (
	Claims       Key = "claims"
	Principal    Key = "principal"
	Organization Key = "organization"
	Params       Key = "params"
	RateLimit    Key = "rate_limit"
	RequestID    Key = "request_id"
)

func GetPrincipal(ctx context.Context) (*auth.Principal, bool) {
	p, ok := ctx.Value(Principal).(*auth.Principal)
	return p, ok && p != nil
}

func GetClaims(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(Claims).(*auth.Claims)
	return c, ok && c != nil
}

func GetOrganization(ctx context.Context) (*models.Organization, bool) {
	o, ok := ctx.Value(Organization).(*models.Organization)
	return o, ok && o != nil
}

func GetRateLimit(ctx context.Context) (*ratelimit.Result, bool) {
	r, ok := ctx.Value(RateLimit).(*ratelimit.Result)
	return r, ok && r != nil
}

func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestID).(string)
	return id
}
