package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nao1215/topicdigest/internal/metrics"
)

// defaultUpstreamTimeout は転送1回あたりのデフォルトタイムアウト。
const defaultUpstreamTimeout = 10 * time.Second

// maxUpstreamBody は転送先から読み取るレスポンスボディの上限（バイト）。
const maxUpstreamBody = 10 << 20

var (
	// ErrUpstreamUnavailable は転送先に到達できなかったことを表す。
	ErrUpstreamUnavailable = errors.New("転送先サービスに接続できません")
	// ErrInvalidBody は書き込み系リクエストのボディがJSONオブジェクトでないことを表す。
	ErrInvalidBody = errors.New("リクエストボディはJSONオブジェクトである必要があります")
)

// skippedHeaders は転送時にコピーしないヘッダー。
// hop-by-hopヘッダーに加え、ボディを書き換えるためContent-Lengthも除く。
// Accept-Encodingはレスポンスの展開をhttp.Transportに任せるため除く。
var skippedHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Content-Length",
	"Host",
	"Accept-Encoding",
}

// UpstreamError は転送先が2xx以外を返したことを表す。
type UpstreamError struct {
	// Status は転送先が返したHTTPステータスコード。
	Status int
	// Body は転送先が返したレスポンスボディ。
	Body []byte
	// ContentType は転送先が返したContent-Type。
	ContentType string
}

// Error はエラーメッセージを返す。
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("転送先がエラーを返しました: status=%d", e.Status)
}

// Request は転送するリクエスト。
type Request struct {
	// Method はHTTPメソッド。
	Method string
	// Path は転送先のベースURLからの相対パス。
	Path string
	// Header はクライアントから受け取ったヘッダー。
	Header http.Header
	// Query はクエリ文字列（?を含まない）。
	Query string
	// Body はクライアントから受け取ったボディ。
	Body []byte
	// Caller は認証済みのユーザー名。未認証の読み取りでは空。
	Caller string
}

// Response は転送先から受け取った2xxのレスポンス。
type Response struct {
	// Status はHTTPステータスコード。
	Status int
	// ContentType はレスポンスのContent-Type。
	ContentType string
	// Body はレスポンスボディ。
	Body []byte
}

// Forwarder はblogサービスへリクエストを1回だけ転送する。リトライは行わない。
type Forwarder struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewForwarder は新しいForwarderを生成する。timeoutが0以下の場合は10秒。
func NewForwarder(baseURL string, timeout time.Duration, logger *zap.Logger) *Forwarder {
	if timeout <= 0 {
		timeout = defaultUpstreamTimeout
	}
	return &Forwarder{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Forward はリクエストを転送先に送信する。
//
// POST/PUT/PATCHではボディのusernameをCallerで上書きし、X-UsernameヘッダーにもCallerを設定する。
// 転送先が2xx以外を返した場合は*UpstreamError、到達できなかった場合はErrUpstreamUnavailableを返す。
func (f *Forwarder) Forward(ctx context.Context, req Request) (resp Response, err error) {
	defer func() {
		outcome := metrics.OutcomeSuccess
		if err != nil {
			outcome = metrics.OutcomeFailure
		}
		metrics.ObserveForward(req.Method, outcome)
	}()

	body := req.Body
	if injectsIdentity(req.Method) {
		body, err = injectIdentity(req.Body, req.Caller)
		if err != nil {
			return Response{}, err
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, f.targetURL(req.Path, req.Query), bodyReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("転送リクエストの作成に失敗: %w", err)
	}
	copyHeaders(httpReq.Header, req.Header)
	httpReq.Header.Del("X-Username")
	if req.Caller != "" {
		httpReq.Header.Set("X-Username", req.Caller)
	}
	if injectsIdentity(req.Method) {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := f.client.Do(httpReq)
	if err != nil {
		f.logger.Warn("転送先との通信に失敗しました",
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.Error(err),
		)
		return Response{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxUpstreamBody))
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	contentType := httpResp.Header.Get("Content-Type")

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return Response{}, &UpstreamError{
			Status:      httpResp.StatusCode,
			Body:        respBody,
			ContentType: contentType,
		}
	}

	// 空の成功レスポンスは204も含めて200 {"detail":"success"}に揃える
	if len(respBody) == 0 {
		return Response{
			Status:      http.StatusOK,
			ContentType: "application/json; charset=utf-8",
			Body:        []byte(`{"detail":"success"}`),
		}, nil
	}
	if contentType == "" {
		contentType = "application/json"
	}
	return Response{Status: httpResp.StatusCode, ContentType: contentType, Body: respBody}, nil
}

func (f *Forwarder) targetURL(path, query string) string {
	url := f.baseURL + "/" + strings.TrimLeft(path, "/")
	if query != "" {
		url += "?" + query
	}
	return url
}

// injectsIdentity はボディへのユーザー名注入を行うメソッドかどうかを返す。
func injectsIdentity(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// injectIdentity はJSONオブジェクトのusernameフィールドをcallerで上書きする。
// 空のボディは空のオブジェクトとして扱う。
func injectIdentity(body []byte, caller string) ([]byte, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil || obj == nil {
		return nil, ErrInvalidBody
	}

	name, err := json.Marshal(caller)
	if err != nil {
		return nil, fmt.Errorf("ユーザー名のシリアライズに失敗: %w", err)
	}
	obj["username"] = name

	out, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
	}
	return out, nil
}

func bodyReader(body []byte) io.Reader {
	if len(body) == 0 {
		return nil
	}
	return bytes.NewReader(body)
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, v := range values {
			dst.Add(key, v)
		}
	}
	for _, key := range skippedHeaders {
		dst.Del(key)
	}
}
