// Package llm はOpenAI互換のchat completions APIを呼び出す推論クライアントを提供する。
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nao1215/topicdigest/pkg/httpclient"
)

// ErrEmptyCompletion は応答にchoiceが含まれない場合のエラー。
var ErrEmptyCompletion = errors.New("推論結果が空です")

// Config は推論クライアントの設定。
type Config struct {
	// Endpoint はAPIのベースURL（例: "https://api.openai.com/v1"）。
	Endpoint string
	// Model は使用するモデル名。
	Model string
	// APIKey はBearerトークンとして送信するAPIキー。
	APIKey string
	// Timeout は1回の呼び出しのタイムアウト。
	Timeout time.Duration
}

// Client はOpenAI互換APIのクライアント。
type Client struct {
	http  *httpclient.Client
	model string
}

// New は新しいClientを生成する。
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" || cfg.Model == "" {
		return nil, errors.New("推論クライアントの設定が不足しています")
	}
	return &Client{
		http: httpclient.New(
			strings.TrimRight(cfg.Endpoint, "/"),
			httpclient.WithTimeout(cfg.Timeout),
			httpclient.WithBearerToken(cfg.APIKey),
		),
		model: cfg.Model,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete はsystemとuserのメッセージで推論を1回実行し、最初のchoiceの本文を返す。
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}

	var resp chatResponse
	if err := c.http.PostJSON(ctx, "/chat/completions", req, &resp); err != nil {
		return "", fmt.Errorf("推論APIの呼び出しに失敗: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}
