// Package backend provides the generative backends that answer resolved
// requests.
//
// The dialogue manager hands a backend the fully assembled prompt for a
// turn, plus a snapshot of the conversation for adapters that want the
// structured history. Two adapters exist: Anthropic (Messages API over
// HTTP) and Canned (deterministic offline answers).
package backend

import (
	"context"
	"errors"

	"github.com/aimai-dev/aimai/internal/conversation"
)

// Sentinel errors for backend failures. Callers match with errors.Is and
// recover by degrading the turn; neither is ever fatal to a conversation.
var (
	// ErrUnavailable covers connection failures, exhausted retries and
	// terminal API statuses.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrTimeout covers deadline expiry while waiting for a completion.
	ErrTimeout = errors.New("backend timeout")
)

// Generator produces an answer for a resolved request.
type Generator interface {
	// Generate returns the answer text for the given prompt. The snapshot
	// carries the conversation the prompt was assembled from. Failures are
	// reported as ErrUnavailable or ErrTimeout.
	Generate(ctx context.Context, prompt string, snap conversation.Snapshot) (string, error)
}
