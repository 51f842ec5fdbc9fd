// Package assess scores a single utterance for ambiguity against the
// running conversation context.
//
// The assessor is pure and deterministic: the same utterance and snapshot
// always produce the same assessment. All detection knowledge lives in a
// declarative rule table, so adding a cue means adding a table entry, not a
// code branch. The ambiguity threshold is deliberately NOT applied here:
// deciding what to do with a score belongs to the dialogue manager.
package assess

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/aimai-dev/aimai/internal/conversation"
)

// Rule is one weighted ambiguity cue. A rule matches when any literal cue is
// contained in the utterance, when the pattern matches, or when the rune
// count falls inside (MinRunes, MaxRunes]. Literal cues carry the Japanese
// side of a rule; patterns carry the word-bounded English side.
type Rule struct {
	ID         string
	Weight     float64
	Categories []conversation.Category

	Cues     []string       // literal substrings, matched against the lowercased utterance
	Pattern  *regexp.Regexp // word-bounded alternative to Cues
	MinRunes int            // length rules: fires only when rune count > MinRunes
	MaxRunes int            // length rules: fires only when rune count ≤ MaxRunes

	// NoAntecedent gates the rule on a conversation with no prior turns.
	NoAntecedent bool
	// SkipInReply suppresses the rule when the utterance answers a pending
	// clarifying question.
	SkipInReply bool
	// Label is recorded in the matched cues instead of the matched text.
	Label string
}

// match returns the matched cue text, or false.
func (r Rule) match(utterance string, runes int) (string, bool) {
	for _, cue := range r.Cues {
		if strings.Contains(utterance, cue) {
			return cue, true
		}
	}
	if r.Pattern != nil {
		if m := r.Pattern.FindString(utterance); m != "" {
			return m, true
		}
	}
	if r.MaxRunes > 0 && runes > r.MinRunes && runes <= r.MaxRunes {
		return r.ID, true
	}
	return "", false
}

// DefaultRules returns the standard bilingual rule table. Weights are tuned
// so that a single weak cue stays below the default 0.5 threshold while a
// bare demonstrative against an empty conversation lands well above it.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:         "demonstrative",
			Weight:     0.25,
			Categories: []conversation.Category{conversation.CategoryReferential},
			Cues:       []string{"それ", "これ", "あれ", "この", "その", "あの"},
			Pattern:    regexp.MustCompile(`\b(this|that|it|these|those)\b`),
		},
		{
			// A demonstrative with nothing before it in the conversation
			// cannot be resolved at all, which is worse than a demonstrative
			// with candidate antecedents. Hence the extra weight.
			ID:           "no-antecedent",
			Weight:       0.30,
			Categories:   []conversation.Category{conversation.CategoryReferential},
			Cues:         []string{"それ", "これ", "あれ", "この", "その", "あの"},
			Pattern:      regexp.MustCompile(`\b(this|that|it|these|those)\b`),
			NoAntecedent: true,
			SkipInReply:  true,
			Label:        "no antecedent",
		},
		{
			ID:         "interrogative",
			Weight:     0.20,
			Categories: []conversation.Category{conversation.CategoryIntent},
			Cues:       []string{"どう", "なぜ", "どれ", "どの"},
			Pattern:    regexp.MustCompile(`\b(how|why|which)\b`),
		},
		{
			ID:         "subjective-qualifier",
			Weight:     0.15,
			Categories: []conversation.Category{conversation.CategoryIntent},
			Cues:       []string{"いい感じ", "きれいに", "うまく"},
			Pattern:    regexp.MustCompile(`\b(nice|better|properly)\b`),
		},
		{
			ID:         "vague-quantifier",
			Weight:     0.20,
			Categories: []conversation.Category{conversation.CategoryScope},
			Cues:       []string{"いくつか", "ちょっと", "少し", "適当に"},
			Pattern:    regexp.MustCompile(`\b(some|a few|a bit)\b`),
		},
		{
			ID:         "generic-noun",
			Weight:     0.15,
			Categories: []conversation.Category{conversation.CategoryReferential},
			Cues:       []string{"もの", "こと", "やつ", "感じ", "ところ"},
			Pattern:    regexp.MustCompile(`\b(thing|things|stuff)\b`),
		},
		{
			ID:         "comparative",
			Weight:     0.20,
			Categories: []conversation.Category{conversation.CategoryMissingParameter},
			Cues:       []string{"もっと", "より", "一番"},
			Pattern:    regexp.MustCompile(`\b(more|faster|best)\b`),
		},
		{
			ID:         "relative-time",
			Weight:     0.20,
			Categories: []conversation.Category{conversation.CategoryTemporal},
			Cues:       []string{"さっき", "あとで", "そのうち", "今度"},
			Pattern:    regexp.MustCompile(`\b(earlier|later|soon|recently)\b`),
		},
		{
			ID:         "stacked-question-marks",
			Weight:     0.30,
			Categories: []conversation.Category{conversation.CategoryIntent},
			Pattern:    regexp.MustCompile(`\?{2,}|？{2,}`),
		},
		{
			// Length tiers use rune counts, not word counts: Japanese text
			// has no whitespace word boundaries to count.
			ID:          "very-short",
			Weight:      0.30,
			Categories:  []conversation.Category{conversation.CategoryMissingParameter},
			MaxRunes:    8,
			SkipInReply: true,
		},
		{
			ID:          "short",
			Weight:      0.20,
			Categories:  []conversation.Category{conversation.CategoryMissingParameter},
			MinRunes:    8,
			MaxRunes:    16,
			SkipInReply: true,
		},
	}
}

// affirmations are bare yes/no replies that fully answer a pending
// clarifying question.
var affirmations = map[string]bool{
	"はい":   true,
	"いいえ":  true,
	"うん":   true,
	"ええ":   true,
	"そうです": true,
	"yes":  true,
	"no":   true,
	"ok":   true,
	"okay": true,
}

// isAffirmation reports whether the utterance is nothing but an
// affirmation or negation.
func isAffirmation(utterance string) bool {
	return affirmations[strings.Trim(utterance, " 　。．.、,！!？?")]
}

// Assessor applies a rule table to utterances.
type Assessor struct {
	rules         []Rule
	normalization float64
}

// New builds an assessor. A nil rule table selects DefaultRules; a
// normalization ≤ 0 falls back to 1.0, which reproduces plain
// clamp-at-one summing.
func New(rules []Rule, normalization float64) *Assessor {
	if rules == nil {
		rules = DefaultRules()
	}
	if normalization <= 0 {
		normalization = 1.0
	}
	return &Assessor{rules: rules, normalization: normalization}
}

// Assess scores one utterance against the conversation snapshot.
//
// When the snapshot carries a pending clarifying question the utterance is
// treated as the answer to it: length rules and the no-antecedent gate are
// suppressed (the question supplies the antecedent and licenses a short
// reply), and a bare affirmation short-circuits to zero. Lexical cues in a
// substantive reply still count.
func (a *Assessor) Assess(utterance string, snap conversation.Snapshot) conversation.Assessment {
	lower := strings.ToLower(strings.TrimSpace(utterance))
	runes := utf8.RuneCountInString(lower)

	_, replying := snap.PendingQuestion()
	if replying && isAffirmation(lower) {
		return conversation.Assessment{}
	}

	var (
		sum        float64
		cues       []string
		categories []conversation.Category
		seen       = map[conversation.Category]bool{}
	)
	for _, r := range a.rules {
		if r.SkipInReply && replying {
			continue
		}
		if r.NoAntecedent && snap.HasAntecedent() {
			continue
		}
		cue, ok := r.match(lower, runes)
		if !ok {
			continue
		}
		if r.Label != "" {
			cue = r.Label
		}
		sum += r.Weight
		cues = append(cues, cue)
		for _, c := range r.Categories {
			if !seen[c] {
				seen[c] = true
				categories = append(categories, c)
			}
		}
	}

	score := sum / a.normalization
	if score > 1 {
		score = 1
	}

	return conversation.Assessment{
		Score:       score,
		Categories:  categories,
		MatchedCues: cues,
	}
}
