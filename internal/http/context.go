package http

import "context"

type contextKey string

const (
	meetingIDContextKey  contextKey = "meeting_id"
	contractIDContextKey contextKey = "contract_id"
	userIDContextKey     contextKey = "user_id"
)

// ContextWithMeetingID injects the meeting identifier resolved from the request path.
func ContextWithMeetingID(ctx context.Context, meetingID string) context.Context {
	return context.WithValue(ctx, meetingIDContextKey, meetingID)
}

// MeetingIDFromContext extracts a meeting identifier previously associated with the context.
func MeetingIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(meetingIDContextKey).(string)
	return id, ok
}

// ContextWithContractID injects the contract identifier resolved from the request path.
func ContextWithContractID(ctx context.Context, contractID string) context.Context {
	return context.WithValue(ctx, contractIDContextKey, contractID)
}

// ContractIDFromContext extracts a contract identifier previously associated with the context.
func ContractIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contractIDContextKey).(string)
	return id, ok
}

// ContextWithUserID injects the user identifier resolved from the request path.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// UserIDFromContext extracts a user identifier previously associated with the context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDContextKey).(string)
	return id, ok
}
