package message

import "errors"

const (
	// Exchange は通知メッセージを発行するtopic exchange名。
	Exchange = "llm_comms"
	// ExchangeKind はExchangeの種類。
	ExchangeKind = "topic"
	// RoutingKey はメール通知用のルーティングキー。
	RoutingKey = "summary.email"
	// ContentType はメッセージボディのMIMEタイプ。
	ContentType = "application/json"
)

// ErrInvalid はメッセージの必須項目が欠けていることを表す。
var ErrInvalid = errors.New("通知メッセージが不正です")

// Notification はブローカーに発行される通知メッセージ。
// 発行された時点でtopictrackerの責務は終わる。
type Notification struct {
	// Email は要約の送り先。
	Email string `json:"email"`
	// Links は要約の元になった記事のURL。検索結果の順序を保持する。
	Links []string `json:"links"`
	// Summary は記事をまとめた要約文。
	Summary string `json:"summary"`
}
