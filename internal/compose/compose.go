// Package compose turns ambiguity assessments into concrete clarifying
// questions.
//
// The composer owns a static template table and nothing else: which
// questions were asked recently is per-conversation state and lives in
// the conversation metadata, so the same Composer instance serves every
// conversation concurrently.
package compose

import (
	"errors"
	"regexp"
	"strings"

	"github.com/aimai-dev/aimai/internal/conversation"
)

// ErrNoApplicableTemplate is returned when no template in the table matches
// any category of the assessment and the table has no wildcard entry. The
// default table always carries a wildcard, so this only fires for
// misconfigured custom tables.
var ErrNoApplicableTemplate = errors.New("no applicable question template")

// Template is one entry in the question table.
type Template struct {
	ID       string
	Category conversation.Category // empty string matches every assessment
	Pattern  string                // may contain {cue} and {topic} slots
	Priority int
}

// Question is a rendered clarifying question. The template id is surfaced
// so the caller can record it into the conversation's recently-used set;
// the composer itself never writes state.
type Question struct {
	TemplateID string
	Text       string
}

// DefaultTemplates returns the standard Japanese question table: two or
// three phrasings per ambiguity category plus one generic wildcard.
// Higher priority means more specific phrasing; the selection falls down
// the priorities as entries land in the recently-used set.
func DefaultTemplates() []Template {
	return []Template{
		{
			ID:       "referential-cue",
			Category: conversation.CategoryReferential,
			Pattern:  "「{cue}」というのは、具体的に何を指していますか？",
			Priority: 30,
		},
		{
			ID:       "referential-topic",
			Category: conversation.CategoryReferential,
			Pattern:  "「{topic}」に関することでしょうか？どれを指しているのか教えてください。",
			Priority: 20,
		},
		{
			ID:       "referential-any",
			Category: conversation.CategoryReferential,
			Pattern:  "どれのことを言っているのか、もう少し具体的に教えてもらえますか？",
			Priority: 10,
		},
		{
			ID:       "scope-range",
			Category: conversation.CategoryScope,
			Pattern:  "「{cue}」というのは、どのくらいの範囲を想定していますか？",
			Priority: 30,
		},
		{
			ID:       "scope-any",
			Category: conversation.CategoryScope,
			Pattern:  "対象をどこまで含めるのか、範囲を教えてください。",
			Priority: 10,
		},
		{
			ID:       "intent-goal",
			Category: conversation.CategoryIntent,
			Pattern:  "「{cue}」の部分について、何を知りたいのか教えてもらえますか？",
			Priority: 30,
		},
		{
			ID:       "intent-outcome",
			Category: conversation.CategoryIntent,
			Pattern:  "最終的にどういう状態になれば良いですか？",
			Priority: 20,
		},
		{
			ID:       "intent-any",
			Category: conversation.CategoryIntent,
			Pattern:  "目的をもう少し詳しく教えてもらえますか？",
			Priority: 10,
		},
		{
			ID:       "param-criteria",
			Category: conversation.CategoryMissingParameter,
			Pattern:  "「{cue}」の基準や条件を具体的に教えてください。",
			Priority: 30,
		},
		{
			ID:       "param-topic",
			Category: conversation.CategoryMissingParameter,
			Pattern:  "「{topic}」について、判断に必要な条件が分かりません。詳細をお願いします。",
			Priority: 20,
		},
		{
			ID:       "param-any",
			Category: conversation.CategoryMissingParameter,
			Pattern:  "判断に必要な情報が足りません。もう少し詳しくお願いします。",
			Priority: 10,
		},
		{
			ID:       "temporal-when",
			Category: conversation.CategoryTemporal,
			Pattern:  "「{cue}」というのは、いつ頃のことですか？",
			Priority: 30,
		},
		{
			ID:       "temporal-any",
			Category: conversation.CategoryTemporal,
			Pattern:  "対象の日付や期間を具体的に教えてください。",
			Priority: 10,
		},
		{
			ID:      "generic",
			Pattern: "すみません、もう少し詳しく教えてもらえますか？",
		},
	}
}

// Composer selects and renders questions from a template table.
type Composer struct {
	templates []Template
}

// New builds a composer. A nil table selects DefaultTemplates.
func New(templates []Template) *Composer {
	if templates == nil {
		templates = DefaultTemplates()
	}
	return &Composer{templates: templates}
}

// Compose picks the best applicable template for the assessment and renders
// it against the conversation snapshot.
//
// Candidates are the templates whose category appears in the assessment,
// plus every wildcard. Recently-used template ids are excluded first; if
// that empties the candidate set the exclusion is waived, because repeating
// a question beats having nothing to ask. Among the survivors the highest
// priority wins, with table order breaking ties, so selection is fully
// deterministic.
func (c *Composer) Compose(a conversation.Assessment, snap conversation.Snapshot) (Question, error) {
	candidates := c.candidates(a.Categories)
	if len(candidates) == 0 {
		return Question{}, ErrNoApplicableTemplate
	}

	fresh := excludeRecent(candidates, snap.Metadata.RecentTemplates)
	if len(fresh) == 0 {
		fresh = candidates
	}

	best := fresh[0]
	for _, t := range fresh[1:] {
		if t.Priority > best.Priority {
			best = t
		}
	}

	return Question{TemplateID: best.ID, Text: render(best.Pattern, a, snap)}, nil
}

// candidates returns the templates applicable to the given categories, in
// table order. Wildcard templates are always applicable.
func (c *Composer) candidates(categories []conversation.Category) []Template {
	var out []Template
	for _, t := range c.templates {
		if t.Category == "" || containsCategory(categories, t.Category) {
			out = append(out, t)
		}
	}
	return out
}

func containsCategory(categories []conversation.Category, want conversation.Category) bool {
	for _, c := range categories {
		if c == want {
			return true
		}
	}
	return false
}

func excludeRecent(candidates []Template, recent []string) []Template {
	var out []Template
	for _, t := range candidates {
		used := false
		for _, id := range recent {
			if t.ID == id {
				used = true
				break
			}
		}
		if !used {
			out = append(out, t)
		}
	}
	return out
}

// ─── Slot filling ───────────────────────────────────────────────────────────

var slotPattern = regexp.MustCompile(`\{[a-z]+\}`)

// fallbackReference stands in for any slot that cannot be filled. The
// rendered text never contains a raw {slot} marker.
const fallbackReference = "その件"

func render(pattern string, a conversation.Assessment, snap conversation.Snapshot) string {
	return slotPattern.ReplaceAllStringFunc(pattern, func(slot string) string {
		switch slot {
		case "{cue}":
			if cue := quotableCue(a, snap); cue != "" {
				return cue
			}
		case "{topic}":
			if hints := snap.Metadata.TopicHints; len(hints) > 0 {
				return hints[len(hints)-1]
			}
		}
		return fallbackReference
	})
}

// quotableCue returns the first matched cue that appears verbatim in the
// latest user turn. Synthetic cues (rule labels such as "no antecedent")
// never appear in the utterance, so they are never quoted back at the user.
func quotableCue(a conversation.Assessment, snap conversation.Snapshot) string {
	utterance := strings.ToLower(lastUserContent(snap))
	for _, cue := range a.MatchedCues {
		if cue != "" && strings.Contains(utterance, cue) {
			return cue
		}
	}
	return ""
}

func lastUserContent(snap conversation.Snapshot) string {
	for i := len(snap.Turns) - 1; i >= 0; i-- {
		if snap.Turns[i].Role == conversation.RoleUser {
			return snap.Turns[i].Content
		}
	}
	return ""
}
