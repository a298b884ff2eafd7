package lifecycle

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

// ReopenPolicy configures the reopen cooldown and reason requirements.
type ReopenPolicy struct {
	CooldownEnabled bool
	Cooldown        time.Duration
	MinReasonLength int
	// FirstReopenMinReasonLength applies to a requester's first reopen of a ticket.
	FirstReopenMinReasonLength int
}

// DefaultReopenPolicy returns the production defaults.
func DefaultReopenPolicy() ReopenPolicy {
	return ReopenPolicy{
		CooldownEnabled:            true,
		Cooldown:                   time.Hour,
		MinReasonLength:            10,
		FirstReopenMinReasonLength: 30,
	}
}

// ThrottleDecision is the outcome of a cooldown check.
type ThrottleDecision struct {
	Allowed           bool
	RetryAfterSeconds int
}

// CheckReopenThrottle denies a reopen when the previous one happened less than cooldown ago.
// A ticket never reopened before is not throttled; a disabled cooldown always allows.
func CheckReopenThrottle(ticket *domain.Ticket, now time.Time, cooldownEnabled bool, cooldown time.Duration) ThrottleDecision {
	if !cooldownEnabled || ticket.LastReopenedAt == nil || cooldown <= 0 {
		return ThrottleDecision{Allowed: true}
	}
	elapsed := now.Sub(*ticket.LastReopenedAt)
	if elapsed >= cooldown {
		return ThrottleDecision{Allowed: true}
	}
	retryAfter := int(math.Ceil((cooldown - elapsed).Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return ThrottleDecision{Allowed: false, RetryAfterSeconds: retryAfter}
}

// ValidateReopenReason enforces the minimum-detail rule; a requester's first reopen needs more detail.
func ValidateReopenReason(ticket *domain.Ticket, actor domain.Actor, reason string, policy ReopenPolicy) error {
	trimmed := strings.TrimSpace(reason)
	if trimmed == "" {
		return apperrors.NewValidationError("reopen reason required", map[string]any{"field": "reopenReason"})
	}
	minLength := policy.MinReasonLength
	if actor.Role == domain.RoleRequester && ticket.LastReopenedAt == nil && policy.FirstReopenMinReasonLength > minLength {
		minLength = policy.FirstReopenMinReasonLength
	}
	if utf8.RuneCountInString(trimmed) < minLength {
		return apperrors.NewValidationError(
			fmt.Sprintf("reopen reason must be at least %d characters", minLength),
			map[string]any{"field": "reopenReason", "min_length": minLength},
		)
	}
	return nil
}
