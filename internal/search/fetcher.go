// Package search はトピックに関連する記事を外部の検索プロバイダから取得する。
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/nao1215/topicdigest/pkg/httpclient"
)

// ErrSearchProvider は検索プロバイダの呼び出し失敗、または解釈できない応答を表す。
var ErrSearchProvider = errors.New("検索プロバイダの呼び出しに失敗")

// DefaultMaxResults は1回の検索で要求する件数のデフォルト値。
const DefaultMaxResults = 5

// Article は検索結果の1件。
type Article struct {
	// URL は記事のURL。
	URL string `json:"url"`
	// Content は記事本文の抜粋。HTMLは除去済み。
	Content string `json:"content"`
}

// Config はFetcherの設定。
type Config struct {
	// Endpoint は検索APIのURL。
	Endpoint string
	// APIKey はBearerトークンとして送信するAPIキー。
	APIKey string
	// MaxResults は要求する最大件数。0以下の場合はDefaultMaxResults。
	MaxResults int
	// Timeout は1回の呼び出しのタイムアウト。
	Timeout time.Duration
}

// Fetcher はTavily互換の検索APIから記事を取得する。
type Fetcher struct {
	client     *httpclient.Client
	maxResults int
	policy     *bluemonday.Policy
}

// NewFetcher は新しいFetcherを生成する。
func NewFetcher(cfg Config) *Fetcher {
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &Fetcher{
		client: httpclient.New(
			strings.TrimRight(cfg.Endpoint, "/"),
			httpclient.WithTimeout(cfg.Timeout),
			httpclient.WithBearerToken(cfg.APIKey),
		),
		maxResults: maxResults,
		policy:     bluemonday.StrictPolicy(),
	}
}

// searchRequest は検索APIへのリクエストボディ。
type searchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

// searchResponse はresultsフィールドを持つオブジェクト形式の応答。
type searchResponse struct {
	Results *[]Article `json:"results"`
}

// Fetch はtopicで検索を1回だけ実行し、結果を順序を保ったまま返す。
// 結果が0件の場合は空のスライスとnilを返す。
func (f *Fetcher) Fetch(ctx context.Context, topic string) ([]Article, error) {
	var raw json.RawMessage
	req := searchRequest{Query: topic, MaxResults: f.maxResults}
	if err := f.client.PostJSON(ctx, "", req, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchProvider, err)
	}

	results, err := decodeResults(raw)
	if err != nil {
		return nil, err
	}

	articles := make([]Article, 0, len(results))
	for _, r := range results {
		url := strings.TrimSpace(r.URL)
		if url == "" {
			continue
		}
		articles = append(articles, Article{
			URL:     url,
			Content: strings.TrimSpace(f.policy.Sanitize(r.Content)),
		})
	}
	return articles, nil
}

// decodeResults は結果の配列、またはresultsを持つオブジェクトのどちらかを受け付ける。
func decodeResults(raw json.RawMessage) ([]Article, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: 空の応答", ErrSearchProvider)
	}

	switch trimmed[0] {
	case '[':
		var results []Article
		if err := json.Unmarshal(trimmed, &results); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSearchProvider, err)
		}
		return results, nil
	case '{':
		var resp searchResponse
		if err := json.Unmarshal(trimmed, &resp); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSearchProvider, err)
		}
		if resp.Results == nil {
			return nil, fmt.Errorf("%w: resultsフィールドがありません", ErrSearchProvider)
		}
		return *resp.Results, nil
	default:
		return nil, fmt.Errorf("%w: 想定外の応答形式", ErrSearchProvider)
	}
}
