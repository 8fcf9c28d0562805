// Package plans maps an organization's subscription tier to its AI rate
// limit buckets.
package plans

import (
	"strings"
	"time"

	"crm_backend/internal/ratelimit"
)

// Tier is a subscription plan.
type Tier string

const (
	TierFree       Tier = "free"
	TierStarter    Tier = "starter"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Bucket names, also used as metric labels and in 429 bodies.
const (
	BucketUserMinute = "ai_user_per_minute"
	BucketOrgDay     = "ai_org_per_day"
)

type limits struct {
	userPerMinute int
	orgPerDay     int
}

var tierLimits = map[Tier]limits{
	TierFree:       {userPerMinute: 10, orgPerDay: 50},
	TierStarter:    {userPerMinute: 20, orgPerDay: 500},
	TierPro:        {userPerMinute: 30, orgPerDay: 2000},
	TierEnterprise: {userPerMinute: 60, orgPerDay: 0},
}

// ParseTier normalizes a stored plan id. Unknown or empty plans are free.
func ParseTier(s string) Tier {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := tierLimits[t]; ok {
		return t
	}
	return TierFree
}

// BucketsFor returns the buckets checked before every AI feature call, most
// specific first.
func BucketsFor(t Tier) []ratelimit.Bucket {
	l, ok := tierLimits[t]
	if !ok {
		l = tierLimits[TierFree]
	}
	return []ratelimit.Bucket{
		{Name: BucketUserMinute, Scope: ratelimit.ScopeUser, Limit: l.userPerMinute, Window: time.Minute},
		{Name: BucketOrgDay, Scope: ratelimit.ScopeOrganization, Limit: l.orgPerDay, Window: 24 * time.Hour},
	}
}
