// Package http provides HTTP handlers and middleware for the meeting
// scheduling API.
//
// The router exposes the following endpoints:
//   - POST /meetings: proposes a meeting for a contract with one or more
//     candidate slots. GET /meetings/{id} returns the meeting including its
//     sync and review-flag state.
//   - POST /meetings/{id}/confirm, /meetings/{id}/reschedule: attempt to lock
//     in a candidate slot. A 200 response carries either the confirmed meeting
//     or a conflict report; resolution failures abort with no state change.
//   - POST /meetings/{id}/cancel: soft-deletes the meeting and schedules the
//     external calendar cleanup.
//   - GET /meetings/{id}/sync and POST /meetings/{id}/sync/retry: inspect the
//     meeting's pending calendar writes and dead letters, and requeue a dead
//     letter after the underlying problem is fixed.
//   - GET /contracts/{id}/meetings: lists a contract's meetings.
//   - GET /users/{id}/availability?from=&to=: the merged busy timeline for
//     one participant.
//   - GET /oauth/authorize-url?user_id= and GET /oauth/callback: the consent
//     flow connecting a user's Google Calendar.
//   - POST /webhooks/google: push-notification callback that triggers a
//     reconciliation pass. Authenticated by the channel token.
//
// Request/response DTOs live alongside their respective handlers so tests and
// documentation share the same ground truth.
package http
