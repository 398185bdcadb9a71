// Package summarizer は取得した記事群を推論エンドポイントで1つの要約にまとめる。
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nao1215/topicdigest/internal/search"
)

var (
	// ErrNoArticlesFound は要約対象の記事が1件も無いことを表す。
	ErrNoArticlesFound = errors.New("NoArticlesFound")
	// ErrSummarization は推論の失敗、または空の要約を表す。
	ErrSummarization = errors.New("要約の生成に失敗")
)

// Instruction は推論に渡す固定の指示文。
const Instruction = "You are a news digest assistant. Summarize the following articles " +
	"into one concise digest that covers the key points. Reply with plain text only."

// articleSeparator は記事本文を連結する区切り（空行）。
const articleSeparator = "\n\n"

// Completer は推論を1回実行するクライアント。
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Result は要約結果。
type Result struct {
	// Links は入力記事のURL。入力と同じ順序。
	Links []string
	// Summary は生成された要約。
	Summary string
}

// Summarizer は記事群を要約する。
type Summarizer struct {
	completer Completer
}

// New は新しいSummarizerを生成する。
func New(completer Completer) *Summarizer {
	return &Summarizer{completer: completer}
}

// Summarize は記事本文を順に連結して推論を1回だけ実行する。
// 記事が0件の場合は推論を呼ばずにErrNoArticlesFoundを返す。
func (s *Summarizer) Summarize(ctx context.Context, articles []search.Article) (Result, error) {
	if len(articles) == 0 {
		return Result{}, ErrNoArticlesFound
	}

	links := make([]string, 0, len(articles))
	contents := make([]string, 0, len(articles))
	for _, a := range articles {
		links = append(links, a.URL)
		contents = append(contents, a.Content)
	}

	out, err := s.completer.Complete(ctx, Instruction, strings.Join(contents, articleSeparator))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrSummarization, err)
	}

	summary := strings.TrimSpace(out)
	if summary == "" {
		return Result{}, fmt.Errorf("%w: 推論結果が空です", ErrSummarization)
	}

	return Result{Links: links, Summary: summary}, nil
}
