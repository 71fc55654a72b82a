package domain

import (
	"time"

	"github.com/google/uuid"
)

// JWTClaims represents the JWT payload issued by the auth provider.
type JWTClaims struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Roles.
const (
	RoleParent = "parent"
	RoleAdmin  = "admin"
)

// CourseAccessResponse answers a single course-access check.
type CourseAccessResponse struct {
	CourseType CourseSubscriptionType `json:"courseType"`
	Plan       *Plan                  `json:"plan"`
	Allowed    bool                   `json:"allowed"`
}

// AccessibleCoursesResponse lists the course types a user can open.
type AccessibleCoursesResponse struct {
	Plan        *Plan                    `json:"plan"`
	CourseTypes []CourseSubscriptionType `json:"courseTypes"`
}

// subscriptionNamespace scopes name-based subscription ids.
var subscriptionNamespace = uuid.MustParse("6f1c8a4e-5d2b-4b7e-9a51-0c3e6f2d8b17")

// NewSubscriptionID generates a random subscription id.
func NewSubscriptionID() string {
	return uuid.New().String()
}

// SubscriptionIDForSession derives a stable subscription id from a payment
// session, so repeated provisioning of one payment yields one id.
func SubscriptionIDForSession(sessionID string) string {
	return uuid.NewSHA1(subscriptionNamespace, []byte(sessionID)).String()
}

// NewNonce returns a random request nonce.
func NewNonce() string {
	return uuid.New().String()
}

// ProvisioningSummary describes outstanding provisioning work for operators.
type ProvisioningSummary struct {
	Pending []*PaymentSessionRecord `json:"pending"`
	Count   int                     `json:"count"`
	Checked time.Time               `json:"checkedAt"`
}
