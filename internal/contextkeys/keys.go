package contextkeys

// contextKey is an unexported type for context keys to prevent collisions.
type contextKey string

const (
	// UserID is the context key for the authenticated user's ID.
	UserID contextKey = "userID"
	// UserEmail is the context key for the authenticated user's email.
	UserEmail contextKey = "userEmail"
	// UserRole is the context key for the authenticated user's role.
	UserRole contextKey = "userRole"
	// AuthToken is the caller's raw bearer token, forwarded to the backend API.
	AuthToken contextKey = "authToken"
	// RequestID correlates log lines of a single request.
	RequestID contextKey = "requestID"
)
