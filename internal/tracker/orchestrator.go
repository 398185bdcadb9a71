package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nao1215/topicdigest/internal/metrics"
	"github.com/nao1215/topicdigest/internal/search"
	"github.com/nao1215/topicdigest/internal/summarizer"
	"github.com/nao1215/topicdigest/pkg/message"
)

// Stage はパイプラインの状態。
type Stage string

const (
	// StageReceived はリクエストを受け付けた状態。
	StageReceived Stage = "RECEIVED"
	// StageFetching は記事を取得中の状態。
	StageFetching Stage = "FETCHING"
	// StageSummarizing は要約を生成中の状態。
	StageSummarizing Stage = "SUMMARIZING"
	// StagePublishing は通知メッセージを発行中の状態。
	StagePublishing Stage = "PUBLISHING"
	// StageAccepted は通知メッセージの発行まで完了した状態。
	StageAccepted Stage = "ACCEPTED"
	// StageFailed はいずれかのステージで失敗した状態。
	StageFailed Stage = "FAILED"
)

// StageError は失敗したステージとその原因。
type StageError struct {
	// Stage は失敗したステージ。
	Stage Stage
	// Err は原因となったエラー。
	Err error
}

// Error はエラーメッセージを返す。
func (e *StageError) Error() string {
	return fmt.Sprintf("%sステージで失敗: %v", e.Stage, e.Err)
}

// Unwrap は原因となったエラーを返す。
func (e *StageError) Unwrap() error {
	return e.Err
}

// Request はパイプラインへの入力。
type Request struct {
	// Topic は検索するトピック。
	Topic string
	// Email は要約の送り先。
	Email string
}

// Outcome はパイプライン実行の結果。
type Outcome struct {
	// RunID は実行ごとに採番されるID。ログの突き合わせに使う。
	RunID string
	// Stage は終端状態。ACCEPTEDまたはFAILED。
	Stage Stage
	// Links は通知メッセージに含めた記事のURL。
	Links []string
}

// Fetcher はトピックに関連する記事を取得する。
type Fetcher interface {
	Fetch(ctx context.Context, topic string) ([]search.Article, error)
}

// Summarizer は記事群を要約する。
type Summarizer interface {
	Summarize(ctx context.Context, articles []search.Article) (summarizer.Result, error)
}

// Publisher は通知メッセージを発行する。
type Publisher interface {
	Publish(ctx context.Context, n message.Notification) error
}

// Timeouts はステージごとのタイムアウト。
type Timeouts struct {
	// Search は記事取得のタイムアウト。
	Search time.Duration
	// Inference は要約生成のタイムアウト。
	Inference time.Duration
	// Publish は発行のタイムアウト。
	Publish time.Duration
}

// DefaultTimeouts はステージごとのタイムアウトのデフォルト値。
var DefaultTimeouts = Timeouts{
	Search:    15 * time.Second,
	Inference: 60 * time.Second,
	Publish:   10 * time.Second,
}

// Orchestrator はパイプラインの各ステージを順に実行する。
type Orchestrator struct {
	fetcher    Fetcher
	summarizer Summarizer
	publisher  Publisher
	timeouts   Timeouts
	logger     *zap.Logger
}

// NewOrchestrator は新しいOrchestratorを生成する。0以下のタイムアウトはデフォルト値で補う。
func NewOrchestrator(f Fetcher, s Summarizer, p Publisher, timeouts Timeouts, logger *zap.Logger) *Orchestrator {
	if timeouts.Search <= 0 {
		timeouts.Search = DefaultTimeouts.Search
	}
	if timeouts.Inference <= 0 {
		timeouts.Inference = DefaultTimeouts.Inference
	}
	if timeouts.Publish <= 0 {
		timeouts.Publish = DefaultTimeouts.Publish
	}
	return &Orchestrator{
		fetcher:    f,
		summarizer: s,
		publisher:  p,
		timeouts:   timeouts,
		logger:     logger,
	}
}

// Run はパイプラインを1回実行する。
// 失敗した場合はStage=FAILEDのOutcomeと*StageErrorを返す。
func (o *Orchestrator) Run(ctx context.Context, req Request) (Outcome, error) {
	ctx = context.WithoutCancel(ctx)
	outcome := Outcome{RunID: uuid.NewString(), Stage: StageReceived}
	logger := o.logger.With(zap.String("run_id", outcome.RunID))

	logger.Info("パイプラインを開始します",
		zap.String("stage", string(StageReceived)),
		zap.String("topic", req.Topic),
	)

	var articles []search.Article
	err := o.executeStage(ctx, logger, StageFetching, o.timeouts.Search, func(ctx context.Context) error {
		var err error
		articles, err = o.fetcher.Fetch(ctx, req.Topic)
		return err
	})
	if err != nil {
		return o.fail(outcome), err
	}

	var result summarizer.Result
	err = o.executeStage(ctx, logger, StageSummarizing, o.timeouts.Inference, func(ctx context.Context) error {
		var err error
		result, err = o.summarizer.Summarize(ctx, articles)
		return err
	})
	if err != nil {
		return o.fail(outcome), err
	}

	notification := message.New(req.Email, result.Links, result.Summary)
	err = o.executeStage(ctx, logger, StagePublishing, o.timeouts.Publish, func(ctx context.Context) error {
		return o.publisher.Publish(ctx, notification)
	})
	if err != nil {
		return o.fail(outcome), err
	}

	outcome.Stage = StageAccepted
	outcome.Links = notification.Links
	metrics.ObserveRun(string(StageAccepted))
	logger.Info("パイプラインが完了しました",
		zap.String("stage", string(StageAccepted)),
		zap.Int("links", len(outcome.Links)),
	)
	return outcome, nil
}

// executeStage は1つのステージをタイムアウト付きで実行し、結果をログとメトリクスに記録する。
func (o *Orchestrator) executeStage(
	ctx context.Context,
	logger *zap.Logger,
	stage Stage,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	logger.Debug("ステージを開始します", zap.String("stage", string(stage)))

	if err := fn(ctx); err != nil {
		metrics.ObserveStage(string(stage), metrics.OutcomeFailure)
		logger.Warn("ステージが失敗しました",
			zap.String("stage", string(stage)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return &StageError{Stage: stage, Err: err}
	}

	metrics.ObserveStage(string(stage), metrics.OutcomeSuccess)
	logger.Debug("ステージが完了しました",
		zap.String("stage", string(stage)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (o *Orchestrator) fail(outcome Outcome) Outcome {
	outcome.Stage = StageFailed
	metrics.ObserveRun(string(StageFailed))
	return outcome
}
