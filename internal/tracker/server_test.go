package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/topicdigest/internal/search"
	"github.com/nao1215/topicdigest/internal/summarizer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// constCompleter は常に同じ要約を返すCompleterのスタブ。
type constCompleter string

func (c constCompleter) Complete(context.Context, string, string) (string, error) {
	return string(c), nil
}

// runnerFunc は関数をRunnerとして扱う。
type runnerFunc func(ctx context.Context, req Request) (Outcome, error)

func (f runnerFunc) Run(ctx context.Context, req Request) (Outcome, error) {
	return f(ctx, req)
}

// doPost はテスト用にJSONボディでPOSTリクエストを送信する。
func doPost(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/search-and-summarize", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

// detailOf はエラーレスポンスのdetailを取り出す。
func detailOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("レスポンスのパースに失敗: %v", err)
	}
	return body["detail"]
}

// TestSearchAndSummarize_EndToEnd は検索・要約・発行を通した一連の流れを検証する。
func TestSearchAndSummarize_EndToEnd(t *testing.T) {
	t.Parallel()

	searchAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"results":[
			{"url":"https://a.example/rust","content":"one"},
			{"url":"https://b.example/rust","content":"two"}
		]}`))
	}))
	defer searchAPI.Close()

	pub := &recordingPublisher{}
	orch := NewOrchestrator(
		search.NewFetcher(search.Config{Endpoint: searchAPI.URL, Timeout: time.Second}),
		summarizer.New(constCompleter("S")),
		pub,
		Timeouts{},
		zap.NewNop(),
	)
	s := NewServer("0", orch, zap.NewNop())

	w := doPost(t, s, `{"topic":"rust","email":"x@y.com"}`)

	if w.Code != http.StatusAccepted {
		t.Fatalf("ステータスコード = %d, want %d, body=%s", w.Code, http.StatusAccepted, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("レスポンスのパースに失敗: %v", err)
	}
	if resp["message"] != "Request Accepted. Summary and links will be sent to x@y.com." {
		t.Errorf("message = %q", resp["message"])
	}

	msgs := pub.messages()
	if len(msgs) != 1 {
		t.Fatalf("発行件数 = %d, want 1", len(msgs))
	}
	body, err := msgs[0].Encode()
	if err != nil {
		t.Fatalf("Encode()でエラーが発生: %v", err)
	}
	want := `{"email":"x@y.com","links":["https://a.example/rust","https://b.example/rust"],"summary":"S"}`
	if string(body) != want {
		t.Errorf("body = %s, want %s", body, want)
	}
}

// TestSearchAndSummarize_Validation はリクエストボディの検証を確認する。
func TestSearchAndSummarize_Validation(t *testing.T) {
	t.Parallel()

	called := false
	s := NewServer("0", runnerFunc(func(context.Context, Request) (Outcome, error) {
		called = true
		return Outcome{Stage: StageAccepted}, nil
	}), zap.NewNop())

	tests := []struct {
		name string
		body string
	}{
		{name: "JSONとして不正な場合", body: `{`},
		{name: "topicが無い場合", body: `{"email":"x@y.com"}`},
		{name: "topicが空白のみの場合", body: `{"topic":"  ","email":"x@y.com"}`},
		{name: "emailが無い場合", body: `{"topic":"rust"}`},
		{name: "emailの形式が不正な場合", body: `{"topic":"rust","email":"not-an-email"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name+"は400を返すこと", func(t *testing.T) {
			w := doPost(t, s, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if detailOf(t, w) == "" {
				t.Error("detailが空")
			}
		})
	}

	if called {
		t.Error("不正なリクエストでパイプラインが実行された")
	}
}

// TestSearchAndSummarize_ErrorMapping はパイプラインのエラーとHTTPステータスの対応を検証する。
func TestSearchAndSummarize_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantDetail string
	}{
		{
			name:       "記事が無い場合は404",
			err:        &StageError{Stage: StageSummarizing, Err: summarizer.ErrNoArticlesFound},
			wantStatus: http.StatusNotFound,
			wantDetail: "NoArticlesFound",
		},
		{
			name:       "検索プロバイダの失敗は502",
			err:        &StageError{Stage: StageFetching, Err: search.ErrSearchProvider},
			wantStatus: http.StatusBadGateway,
			wantDetail: "Search provider error",
		},
		{
			name:       "取得ステージのタイムアウトは502",
			err:        &StageError{Stage: StageFetching, Err: context.DeadlineExceeded},
			wantStatus: http.StatusBadGateway,
			wantDetail: "Search provider error",
		},
		{
			name:       "要約の失敗は502",
			err:        &StageError{Stage: StageSummarizing, Err: summarizer.ErrSummarization},
			wantStatus: http.StatusBadGateway,
			wantDetail: "Summarization failed",
		},
		{
			name:       "発行の失敗は500",
			err:        &StageError{Stage: StagePublishing, Err: errors.New("broker down")},
			wantStatus: http.StatusInternalServerError,
			wantDetail: "Failed to publish notification",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := NewServer("0", runnerFunc(func(context.Context, Request) (Outcome, error) {
				return Outcome{Stage: StageFailed}, tt.err
			}), zap.NewNop())

			w := doPost(t, s, `{"topic":"rust","email":"x@y.com"}`)
			if w.Code != tt.wantStatus {
				t.Errorf("ステータスコード = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := detailOf(t, w); got != tt.wantDetail {
				t.Errorf("detail = %q, want %q", got, tt.wantDetail)
			}
		})
	}
}

// TestHealth はヘルスチェックエンドポイントを検証する。
func TestHealth(t *testing.T) {
	t.Parallel()

	s := NewServer("0", runnerFunc(func(context.Context, Request) (Outcome, error) {
		return Outcome{}, nil
	}), zap.NewNop())

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}
}
