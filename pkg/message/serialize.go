package message

import (
	"encoding/json"
	"fmt"
	"strings"
)

// New は通知メッセージを生成する。linksはコピーして保持する。
func New(email string, links []string, summary string) Notification {
	copied := make([]string, len(links))
	copy(copied, links)
	return Notification{
		Email:   email,
		Links:   copied,
		Summary: summary,
	}
}

// Encode はメッセージをJSONにシリアライズする。
func (n Notification) Encode() ([]byte, error) {
	if n.Links == nil {
		n.Links = []string{}
	}
	body, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("通知メッセージのシリアライズに失敗: %w", err)
	}
	return body, nil
}

// Decode はJSONボディを通知メッセージにデシリアライズする。
func Decode(body []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("通知メッセージのデシリアライズに失敗: %w", err)
	}
	return &n, nil
}

// Validate はメール送信に必要な項目が揃っているかを検証する。
func (n Notification) Validate() error {
	switch {
	case strings.TrimSpace(n.Email) == "":
		return fmt.Errorf("%w: emailが空です", ErrInvalid)
	case strings.TrimSpace(n.Summary) == "":
		return fmt.Errorf("%w: summaryが空です", ErrInvalid)
	case len(n.Links) == 0:
		return fmt.Errorf("%w: linksが空です", ErrInvalid)
	}
	return nil
}
