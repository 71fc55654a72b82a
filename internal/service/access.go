package service

import (
	"context"

	"github.com/brightpath/backend/internal/domain"
)

// AccessService answers course-access questions from the user's active
// subscription.
type AccessService struct {
	subs SubscriptionStore
}

func NewAccessService(subs SubscriptionStore) *AccessService {
	return &AccessService{subs: subs}
}

// CurrentPlan returns the plan of the user's active subscription, or nil.
func (s *AccessService) CurrentPlan(ctx context.Context, userID string) (*domain.Plan, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated()
	}
	sub, err := s.subs.FindActiveByUserID(ctx, userID)
	if err != nil {
		return nil, domain.ErrInternal("failed to load subscription", err)
	}
	if sub == nil {
		return nil, nil
	}
	return sub.Plan(), nil
}

func (s *AccessService) CheckCourseAccess(ctx context.Context, userID string, courseType domain.CourseSubscriptionType) (*domain.CourseAccessResponse, error) {
	plan, err := s.CurrentPlan(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &domain.CourseAccessResponse{
		CourseType: courseType,
		Plan:       plan,
		Allowed:    domain.CanAccessCourse(plan, courseType),
	}, nil
}

func (s *AccessService) AccessibleCourseTypes(ctx context.Context, userID string) (*domain.AccessibleCoursesResponse, error) {
	plan, err := s.CurrentPlan(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &domain.AccessibleCoursesResponse{
		Plan:        plan,
		CourseTypes: domain.AccessibleCourseTypes(plan),
	}, nil
}
