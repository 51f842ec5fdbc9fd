package assess

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/aimai-dev/aimai/internal/conversation"
)

// --- Helpers ---

func emptySnapshot() conversation.Snapshot {
	c := conversation.NewConversation("")
	return c.Snapshot()
}

// replySnapshot builds a conversation waiting on a clarifying question.
func replySnapshot(question string) conversation.Snapshot {
	c := conversation.NewConversation("")
	c.Turns = append(c.Turns,
		conversation.NewTurn(conversation.RoleUser, "エラーが出ました"),
		conversation.NewTurn(conversation.RoleAssistant, question),
	)
	c.Metadata.State = conversation.StateClarifying
	return c.Snapshot()
}

// --- Zero-cue property ---

func TestAssess_NoCuesMeansZeroScore(t *testing.T) {
	a := New(nil, 1.0)

	utterances := []string{
		"明日の15時に東京で会議室を予約してください",
		"schedule a meeting room in tokyo tomorrow at three in the afternoon",
	}
	for _, utterance := range utterances {
		got := a.Assess(utterance, emptySnapshot())
		if got.Score != 0 {
			t.Errorf("Assess(%q) score = %v, want 0", utterance, got.Score)
		}
		if len(got.Categories) != 0 {
			t.Errorf("Assess(%q) categories = %v, want none", utterance, got.Categories)
		}
		if len(got.MatchedCues) != 0 {
			t.Errorf("Assess(%q) cues = %v, want none", utterance, got.MatchedCues)
		}
	}
}

// --- Demonstratives and antecedents ---

func TestAssess_BareDemonstrativeAgainstEmptyContext(t *testing.T) {
	a := New(nil, 1.0)

	got := a.Assess("それ直して", emptySnapshot())
	if got.Score < 0.5 {
		t.Errorf("score = %v, want ≥ 0.5", got.Score)
	}
	if got.Primary() != conversation.CategoryReferential {
		t.Errorf("primary category = %q, want referential", got.Primary())
	}
	wantCues := []string{"それ", "no antecedent", "very-short"}
	if diff := cmp.Diff(wantCues, got.MatchedCues); diff != "" {
		t.Errorf("matched cues mismatch (-want +got):\n%s", diff)
	}
}

func TestAssess_DemonstrativeWithAntecedentScoresLower(t *testing.T) {
	a := New(nil, 1.0)

	bare := a.Assess("それ直して", emptySnapshot())

	c := conversation.NewConversation("")
	c.Turns = append(c.Turns, conversation.NewTurn(conversation.RoleUser, "ログイン画面でエラーが出ます"))
	withContext := a.Assess("それ直して", c.Snapshot())

	if withContext.Score >= bare.Score {
		t.Errorf("score with antecedent = %v, want below bare score %v", withContext.Score, bare.Score)
	}
}

func TestAssess_EnglishCuesAreWordBounded(t *testing.T) {
	a := New(nil, 1.0)

	// "commit" must not fire the demonstrative rule through its "it".
	got := a.Assess("commit the staged changes and push to origin", emptySnapshot())
	if got.Score != 0 {
		t.Errorf("score = %v (cues %v), want 0", got.Score, got.MatchedCues)
	}

	got = a.Assess("fix that bug", emptySnapshot())
	if got.Score < 0.5 {
		t.Errorf("score = %v, want ≥ 0.5", got.Score)
	}
	if got.Primary() != conversation.CategoryReferential {
		t.Errorf("primary category = %q, want referential", got.Primary())
	}
}

// --- Reply mode ---

func TestAssess_ReplyToPendingQuestionScoresLow(t *testing.T) {
	a := New(nil, 1.0)
	utterance := "さっきのエラーのこと"

	reply := a.Assess(utterance, replySnapshot("どの件について教えてください"))
	if reply.Score >= 0.5 {
		t.Errorf("reply-mode score = %v, want < 0.5", reply.Score)
	}

	// The same utterance in isolation crosses the threshold: length rules
	// apply when there is no pending question to license a short answer.
	isolated := a.Assess(utterance, emptySnapshot())
	if isolated.Score < 0.5 {
		t.Errorf("isolated score = %v, want ≥ 0.5", isolated.Score)
	}
}

func TestAssess_ReplyModeKeepsLexicalCues(t *testing.T) {
	a := New(nil, 1.0)

	got := a.Assess("さっきのエラーのこと", replySnapshot("どの件について教えてください"))
	wantCues := []string{"こと", "さっき"}
	if diff := cmp.Diff(wantCues, got.MatchedCues); diff != "" {
		t.Errorf("matched cues mismatch (-want +got):\n%s", diff)
	}
	wantCategories := []conversation.Category{
		conversation.CategoryReferential,
		conversation.CategoryTemporal,
	}
	if diff := cmp.Diff(wantCategories, got.Categories); diff != "" {
		t.Errorf("categories mismatch (-want +got):\n%s", diff)
	}
}

func TestAssess_AffirmationShortCircuitsInReplyMode(t *testing.T) {
	a := New(nil, 1.0)
	snap := replySnapshot("全部のテストを直しますか？")

	for _, utterance := range []string{"はい", "はい。", "いいえ", "うん", "Yes", "OK"} {
		got := a.Assess(utterance, snap)
		if got.Score != 0 || len(got.Categories) != 0 {
			t.Errorf("Assess(%q) = score %v categories %v, want zero assessment",
				utterance, got.Score, got.Categories)
		}
	}
}

func TestAssess_AffirmationOutsideReplyModeIsJustShort(t *testing.T) {
	a := New(nil, 1.0)

	got := a.Assess("はい", emptySnapshot())
	if got.Score != 0.3 {
		t.Errorf("score = %v, want 0.3 from the length rule", got.Score)
	}
	if got.Primary() != conversation.CategoryMissingParameter {
		t.Errorf("primary category = %q, want missing-parameter", got.Primary())
	}
}

// --- Individual rules ---

func TestAssess_StackedQuestionMarks(t *testing.T) {
	a := New(nil, 1.0)

	got := a.Assess("どういう意味ですか？？", emptySnapshot())
	if got.Score < 0.5 {
		t.Errorf("score = %v, want ≥ 0.5", got.Score)
	}
	if got.Primary() != conversation.CategoryIntent {
		t.Errorf("primary category = %q, want intent", got.Primary())
	}
}

func TestAssess_LengthTiersAreExclusive(t *testing.T) {
	a := New(nil, 1.0)

	// 6 runes: only the tight tier fires.
	veryShort := a.Assess("直して下さい", emptySnapshot())
	if veryShort.Score != 0.3 {
		t.Errorf("very short score = %v, want 0.3", veryShort.Score)
	}

	// 12 runes: only the loose tier fires.
	short := a.Assess("会議室を予約して下さいね", emptySnapshot())
	if short.Score != 0.2 {
		t.Errorf("short score = %v, want 0.2", short.Score)
	}
}

func TestAssess_CategoriesDeduplicated(t *testing.T) {
	a := New(nil, 1.0)

	// Demonstrative and no-antecedent both tag referential; it must appear once.
	got := a.Assess("それとあの件のこと", emptySnapshot())
	count := 0
	for _, c := range got.Categories {
		if c == conversation.CategoryReferential {
			count++
		}
	}
	if count != 1 {
		t.Errorf("referential appears %d times in %v, want once", count, got.Categories)
	}
}

// --- Score arithmetic ---

func TestAssess_ScoreClampedAtOne(t *testing.T) {
	a := New(nil, 1.0)

	got := a.Assess("それをちょっとうまくもっと直して？？", emptySnapshot())
	if got.Score != 1.0 {
		t.Errorf("score = %v, want clamp at 1.0", got.Score)
	}
}

func TestAssess_NormalizationDividesScore(t *testing.T) {
	unit := New(nil, 1.0)
	halved := New(nil, 2.0)

	utterance := "それ直して"
	a := unit.Assess(utterance, emptySnapshot())
	b := halved.Assess(utterance, emptySnapshot())

	if b.Score != a.Score/2 {
		t.Errorf("normalized score = %v, want %v", b.Score, a.Score/2)
	}
}

func TestAssess_Deterministic(t *testing.T) {
	a := New(nil, 1.0)
	snap := emptySnapshot()

	first := a.Assess("それをちょっと直して", snap)
	second := a.Assess("それをちょっと直して", snap)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("repeated assessment differs (-first +second):\n%s", diff)
	}
}
