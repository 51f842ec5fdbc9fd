package backend

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/aimai-dev/aimai/internal/conversation"
)

// Canned is a deterministic offline Generator. A handful of keyword
// triggers map to fixed answers; everything else gets a generic answer
// picked by the rune count of the message, so the same input always
// yields the same output. It never fails, which makes it the default
// backend for development and tests.
type Canned struct{}

// NewCanned returns the offline backend.
func NewCanned() *Canned {
	return &Canned{}
}

// keywordAnswers pairs substring triggers with fixed answers. Checked in
// order; the first hit wins.
var keywordAnswers = []struct {
	cues   []string
	answer string
}{
	{
		cues:   []string{"天気", "weather"},
		answer: "今日の天気は晴れ、最高気温は25度、降水確率は10%の見込みです。",
	},
	{
		cues:   []string{"何時", "時間", "time"},
		answer: "現在の時刻は、お住まいの地域で午前10時30分です。",
	},
	{
		cues:   []string{"名前", "name"},
		answer: "私はAIMAIです。曖昧な質問を整理しながら答える対話アシスタントです。",
	},
	{
		cues:   []string{"助けて", "手伝", "help", "できること"},
		answer: "お手伝いします。質問への回答や情報の整理、文章の作成などができます。",
	},
	{
		cues:   []string{"ありがとう", "thank"},
		answer: "どういたしまして。他にも聞きたいことがあれば、いつでもどうぞ。",
	},
}

// genericAnswers serve messages with no keyword hit. Selection is keyed by
// rune count, so replies vary across inputs but stay reproducible.
var genericAnswers = []string{
	"その件については、まず現状を整理してから選択肢を比較するのが近道です。必要なら手順を順に説明します。",
	"一般的には、目的を決めてから小さく試し、結果を見て調整する進め方が確実です。",
	"ご質問の内容は、基本の考え方を押さえれば応用が利きます。まず前提を確認し、その上で手順を進めてください。",
	"最近の傾向としては、段階的に進める方法が主流です。一度に全部を変えるより失敗が少なくなります。",
	"結論から言うと、標準的なやり方で問題ありません。特別な条件がある場合だけ調整してください。",
}

// Generate answers from the latest user turn in the snapshot, falling back
// to the assembled prompt when the snapshot carries no user turn.
func (Canned) Generate(_ context.Context, prompt string, snap conversation.Snapshot) (string, error) {
	message := latestUserContent(snap)
	if message == "" {
		message = prompt
	}

	lower := strings.ToLower(message)
	for _, ka := range keywordAnswers {
		for _, cue := range ka.cues {
			if strings.Contains(lower, cue) {
				return ka.answer, nil
			}
		}
	}
	return genericAnswers[utf8.RuneCountInString(message)%len(genericAnswers)], nil
}

func latestUserContent(snap conversation.Snapshot) string {
	for i := len(snap.Turns) - 1; i >= 0; i-- {
		if snap.Turns[i].Role == conversation.RoleUser {
			return snap.Turns[i].Content
		}
	}
	return ""
}
