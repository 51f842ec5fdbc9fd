// Package conversation defines the dialogue engine's data model and its
// persistence contract.
//
// A Conversation owns an append-only sequence of Turns plus session metadata
// (clarification round, topic hints, recently used templates). All mutation
// goes through the dialogue manager; the assessor and composer only ever see
// immutable Snapshot values.
//
// Two Store implementations are provided: a SQLite store (WAL + FTS5) and a
// JSON file store. Both reconstruct exact turn order and round-trip every
// field of a Turn unchanged.
package conversation

import (
	"fmt"

	"github.com/google/uuid"
)

// --- Role enum ---

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// validRoles is the set of allowed turn roles.
var validRoles = map[Role]bool{
	RoleUser:      true,
	RoleAssistant: true,
}

// ValidateRole returns an error if the role is not recognized.
func ValidateRole(r Role) error {
	if !validRoles[r] {
		return fmt.Errorf("invalid role %q: must be one of: user, assistant", r)
	}
	return nil
}

// --- Ambiguity category enum ---

// Category tags what kind of information is missing from an utterance.
type Category string

const (
	CategoryReferential      Category = "referential"       // unresolved pronoun or entity
	CategoryScope            Category = "scope"             // unbounded quantifier
	CategoryIntent           Category = "intent"            // multiple plausible goals
	CategoryMissingParameter Category = "missing-parameter" // required slot absent
	CategoryTemporal         Category = "temporal"          // ambiguous or missing time reference
)

// validCategories is the set of allowed ambiguity categories.
var validCategories = map[Category]bool{
	CategoryReferential:      true,
	CategoryScope:            true,
	CategoryIntent:           true,
	CategoryMissingParameter: true,
	CategoryTemporal:         true,
}

// ValidateCategory returns an error if the category is not recognized.
func ValidateCategory(c Category) error {
	if !validCategories[c] {
		return fmt.Errorf("invalid ambiguity category %q: must be one of: referential, scope, intent, missing-parameter, temporal", c)
	}
	return nil
}

// --- Dialogue state enum ---

// State is the per-conversation position in the dialogue state machine.
// The machine is cyclic: resolving always returns to awaiting_input.
type State string

const (
	StateAwaitingInput State = "awaiting_input" // ready for the next user message
	StateClarifying    State = "clarifying"     // a clarifying question is outstanding
	StateResolving     State = "resolving"      // forwarding to the generative backend
)

// validStates is the set of allowed dialogue states.
var validStates = map[State]bool{
	StateAwaitingInput: true,
	StateClarifying:    true,
	StateResolving:     true,
}

// ValidateState returns an error if the state is not recognized.
func ValidateState(s State) error {
	if !validStates[s] {
		return fmt.Errorf("invalid dialogue state %q: must be one of: awaiting_input, clarifying, resolving", s)
	}
	return nil
}

// --- Core data structures ---

// Assessment is the ambiguity verdict for a single user turn.
// Produced once by the assessor, owned by the turn, never mutated.
type Assessment struct {
	Score       float64    `json:"score"`                  // in [0,1]
	Categories  []Category `json:"categories,omitempty"`   // insertion-ordered, deduplicated
	MatchedCues []string   `json:"matched_cues,omitempty"` // cue strings in rule order
}

// Primary returns the first (highest-signal) category, or "" if none.
func (a Assessment) Primary() Category {
	if len(a.Categories) == 0 {
		return ""
	}
	return a.Categories[0]
}

// Turn is one message in a conversation's ordered history.
// Immutable once appended.
type Turn struct {
	Role       Role        `json:"role"`
	Content    string      `json:"content"`
	Timestamp  string      `json:"timestamp"` // RFC3339 UTC
	Assessment *Assessment `json:"assessment,omitempty"`
}

// NewTurn builds a timestamped turn.
func NewTurn(role Role, content string) Turn {
	return Turn{Role: role, Content: content, Timestamp: Now()}
}

// Metadata is the per-conversation session state mutated by the dialogue
// manager alongside each appended turn.
type Metadata struct {
	State              State    `json:"state"`
	ClarificationRound int      `json:"clarification_round"`
	LastAmbiguity      Category `json:"last_ambiguity,omitempty"`
	TopicHints         []string `json:"topic_hints,omitempty"`      // oldest first, bounded
	RecentTemplates    []string `json:"recent_templates,omitempty"` // template ids, oldest first, bounded
	Clarifications     int      `json:"clarifications"`             // lifetime count of questions asked
	CreatedAt          string   `json:"created_at"`
	UpdatedAt          string   `json:"updated_at"`
}

// NewMetadata returns initial metadata for a fresh conversation.
func NewMetadata() Metadata {
	now := Now()
	return Metadata{
		State:     StateAwaitingInput,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Conversation is the root record: an id, the ordered turn history, and the
// session metadata. Turns are append-only; insertion order is semantic.
type Conversation struct {
	ID       string   `json:"id"`
	Turns    []Turn   `json:"turns"`
	Metadata Metadata `json:"metadata"`
}

// NewConversation creates an empty conversation with a fresh id.
// Pass "" to have an id generated.
func NewConversation(id string) Conversation {
	if id == "" {
		id = uuid.NewString()
	}
	return Conversation{ID: id, Metadata: NewMetadata()}
}

// LastTurn returns the most recent turn, or false if the history is empty.
func (c *Conversation) LastTurn() (Turn, bool) {
	if len(c.Turns) == 0 {
		return Turn{}, false
	}
	return c.Turns[len(c.Turns)-1], true
}

// Snapshot returns an immutable value copy for the stateless services
// (assessor, composer, backend). The turn slice is copied so later appends
// cannot reach a snapshot already handed out.
func (c *Conversation) Snapshot() Snapshot {
	turns := make([]Turn, len(c.Turns))
	copy(turns, c.Turns)
	hints := make([]string, len(c.Metadata.TopicHints))
	copy(hints, c.Metadata.TopicHints)
	meta := c.Metadata
	meta.TopicHints = hints
	return Snapshot{ID: c.ID, Turns: turns, Metadata: meta}
}

// Snapshot is a point-in-time value copy of a conversation.
type Snapshot struct {
	ID       string
	Turns    []Turn
	Metadata Metadata
}

// PendingQuestion returns the outstanding clarifying question: the last
// assistant turn while the conversation is in the clarifying state.
func (s Snapshot) PendingQuestion() (Turn, bool) {
	if s.Metadata.State != StateClarifying {
		return Turn{}, false
	}
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Role == RoleAssistant {
			return s.Turns[i], true
		}
	}
	return Turn{}, false
}

// HasAntecedent reports whether the context carries any prior content a bare
// demonstrative could refer back to.
func (s Snapshot) HasAntecedent() bool {
	return len(s.Turns) > 0
}

// Summary is a compact listing view of a conversation.
type Summary struct {
	ID             string `json:"id"`
	Active         bool   `json:"active"`
	TurnCount      int    `json:"turn_count"`
	Clarifications int    `json:"clarifications"`
	State          State  `json:"state"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// Match is one full-text search hit over turn content.
type Match struct {
	ConversationID string `json:"conversation_id"`
	Turn           Turn   `json:"turn"`
}
