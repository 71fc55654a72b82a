package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Plan is a subscription tier. The ordinal value is the tier rank: a higher
// plan can access everything a lower plan can.
type Plan int

const (
	PlanFree Plan = iota
	PlanStarter
	PlanBuilder
	PlanProBundle
	PlanOrganization
)

// Plans lists every plan in hierarchy order.
var Plans = []Plan{PlanFree, PlanStarter, PlanBuilder, PlanProBundle, PlanOrganization}

var planNames = map[Plan]string{
	PlanFree:         "Free",
	PlanStarter:      "Starter",
	PlanBuilder:      "Builder",
	PlanProBundle:    "Pro-Bundle",
	PlanOrganization: "Organization",
}

var planSlugs = map[Plan]string{
	PlanFree:         "free",
	PlanStarter:      "starter",
	PlanBuilder:      "builder",
	PlanProBundle:    "pro-bundle",
	PlanOrganization: "organization",
}

func (p Plan) String() string {
	if name, ok := planNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Plan(%d)", int(p))
}

// Slug returns the URL-safe plan identifier used as planId.
func (p Plan) Slug() string {
	return planSlugs[p]
}

func (p Plan) Valid() bool {
	_, ok := planNames[p]
	return ok
}

func (p Plan) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid plan %d", int(p))
	}
	return []byte(p.String()), nil
}

func (p *Plan) UnmarshalText(text []byte) error {
	parsed, err := ParsePlan(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePlan accepts either the display name ("Pro-Bundle") or the slug ("pro-bundle").
func ParsePlan(s string) (Plan, error) {
	for p, name := range planNames {
		if s == name || s == planSlugs[p] {
			return p, nil
		}
	}
	return PlanFree, fmt.Errorf("unknown plan %q", s)
}

// PlanFromSlug resolves a planId.
func PlanFromSlug(slug string) (Plan, bool) {
	for p, s := range planSlugs {
		if s == slug {
			return p, true
		}
	}
	return PlanFree, false
}

// CourseSubscriptionType is the tier tag carried by a course.
type CourseSubscriptionType string

const (
	CourseFree         CourseSubscriptionType = "Free"
	CourseStarter      CourseSubscriptionType = "Starter"
	CourseBuilder      CourseSubscriptionType = "Builder"
	CoursePro          CourseSubscriptionType = "Pro"
	CourseOrganization CourseSubscriptionType = "Organization"
)

// CourseSubscriptionTypes lists every course type in tier order.
var CourseSubscriptionTypes = []CourseSubscriptionType{
	CourseFree, CourseStarter, CourseBuilder, CoursePro, CourseOrganization,
}

// courseTypePlans maps a course tag to the minimum plan that unlocks it.
// Must stay injective and cover CourseSubscriptionTypes.
var courseTypePlans = map[CourseSubscriptionType]Plan{
	CourseFree:         PlanFree,
	CourseStarter:      PlanStarter,
	CourseBuilder:      PlanBuilder,
	CoursePro:          PlanProBundle,
	CourseOrganization: PlanOrganization,
}

// unmappedRank sits above every real plan, so an unmapped course type is
// unreachable rather than silently free.
const unmappedRank = Plan(1 << 16)

// ParseCourseSubscriptionType validates a course tag.
func ParseCourseSubscriptionType(s string) (CourseSubscriptionType, error) {
	ct := CourseSubscriptionType(s)
	if _, ok := courseTypePlans[ct]; !ok {
		return "", fmt.Errorf("unknown course subscription type %q", s)
	}
	return ct, nil
}

// RequiredPlan returns the plan a course type requires. ok is false for
// unmapped course types.
func (c CourseSubscriptionType) RequiredPlan() (Plan, bool) {
	p, ok := courseTypePlans[c]
	return p, ok
}

// ValidateCourseMapping checks that every course type has exactly one plan
// and no two course types share a plan.
func ValidateCourseMapping() error {
	seen := make(map[Plan]CourseSubscriptionType, len(courseTypePlans))
	for _, ct := range CourseSubscriptionTypes {
		p, ok := courseTypePlans[ct]
		if !ok {
			return fmt.Errorf("course subscription type %q has no plan mapping", ct)
		}
		if !p.Valid() {
			return fmt.Errorf("course subscription type %q maps to invalid plan %d", ct, int(p))
		}
		if other, dup := seen[p]; dup {
			return fmt.Errorf("course subscription types %q and %q both map to %s", other, ct, p)
		}
		seen[p] = ct
	}
	if len(courseTypePlans) != len(CourseSubscriptionTypes) {
		return fmt.Errorf("course mapping has %d entries for %d course types", len(courseTypePlans), len(CourseSubscriptionTypes))
	}
	return nil
}

// CanAccessCourse reports whether a user on userPlan may open a course tagged
// coursePlan. A nil userPlan means no subscription and behaves like Free.
func CanAccessCourse(userPlan *Plan, coursePlan CourseSubscriptionType) bool {
	required, ok := courseTypePlans[coursePlan]
	if !ok {
		required = unmappedRank
	}
	if userPlan == nil || *userPlan == PlanFree {
		return coursePlan == CourseFree
	}
	return *userPlan >= required
}

// AccessibleCourseTypes returns the course types userPlan can open, in tier order.
func AccessibleCourseTypes(userPlan *Plan) []CourseSubscriptionType {
	out := make([]CourseSubscriptionType, 0, len(CourseSubscriptionTypes))
	for _, ct := range CourseSubscriptionTypes {
		if CanAccessCourse(userPlan, ct) {
			out = append(out, ct)
		}
	}
	return out
}

// PlanInfo is a purchasable catalog entry.
type PlanInfo struct {
	ID           string          `json:"id"`
	Plan         Plan            `json:"plan"`
	Name         string          `json:"name"`
	MonthlyPrice decimal.Decimal `json:"monthlyPrice"`
	YearlyPrice  decimal.Decimal `json:"yearlyPrice"`
	Currency     string          `json:"currency"`
	Features     []string        `json:"features"`
	Popular      bool            `json:"popular"`
}

// Price returns the catalog price for the billing cycle.
func (p PlanInfo) Price(cycle BillingCycle) decimal.Decimal {
	switch cycle {
	case BillingYearly:
		return p.YearlyPrice
	case BillingQuarterly:
		return p.MonthlyPrice.Mul(decimal.NewFromInt(3))
	default:
		return p.MonthlyPrice
	}
}

// AvailablePlans returns the plan catalog in tier order.
func AvailablePlans() []PlanInfo {
	return []PlanInfo{
		{
			ID:           PlanFree.Slug(),
			Plan:         PlanFree,
			Name:         PlanFree.String(),
			MonthlyPrice: decimal.Zero,
			YearlyPrice:  decimal.Zero,
			Currency:     "ETB",
			Features:     []string{"free-courses", "1-child-profile"},
		},
		{
			ID:           PlanStarter.Slug(),
			Plan:         PlanStarter,
			Name:         PlanStarter.String(),
			MonthlyPrice: decimal.RequireFromString("6.99"),
			YearlyPrice:  decimal.RequireFromString("69.99"),
			Currency:     "ETB",
			Features:     []string{"starter-courses", "2-child-profiles", "progress-reports"},
		},
		{
			ID:           PlanBuilder.Slug(),
			Plan:         PlanBuilder,
			Name:         PlanBuilder.String(),
			MonthlyPrice: decimal.RequireFromString("12.99"),
			YearlyPrice:  decimal.RequireFromString("129.99"),
			Currency:     "ETB",
			Features:     []string{"builder-courses", "4-child-profiles", "progress-reports", "project-reviews"},
			Popular:      true,
		},
		{
			ID:           PlanProBundle.Slug(),
			Plan:         PlanProBundle,
			Name:         PlanProBundle.String(),
			MonthlyPrice: decimal.RequireFromString("19.99"),
			YearlyPrice:  decimal.RequireFromString("199.99"),
			Currency:     "ETB",
			Features:     []string{"pro-courses", "6-child-profiles", "progress-reports", "project-reviews", "live-sessions"},
		},
		{
			ID:           PlanOrganization.Slug(),
			Plan:         PlanOrganization,
			Name:         PlanOrganization.String(),
			MonthlyPrice: decimal.RequireFromString("49.99"),
			YearlyPrice:  decimal.RequireFromString("499.99"),
			Currency:     "ETB",
			Features:     []string{"all-courses", "unlimited-child-profiles", "progress-reports", "project-reviews", "live-sessions", "admin-console"},
		},
	}
}

// GetPlan returns the catalog entry for a planId.
func GetPlan(id string) (PlanInfo, bool) {
	for _, p := range AvailablePlans() {
		if p.ID == id {
			return p, true
		}
	}
	return PlanInfo{}, false
}
