package pipeline

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/hitoshi/contentforge/internal/content"
	"github.com/hitoshi/contentforge/internal/model"
	"github.com/hitoshi/contentforge/internal/worker/dispatch"
)

var (
	sourceURLPattern = regexp.MustCompile(`(?i)^https?://[^\s/$.?#].[^\s]*$`)
	emailPattern     = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// enqueueTimeout はキューが満杯の場合に受付側が待つ上限。
const enqueueTimeout = 5 * time.Second

// URLValidator は外部に接続せずにURLの安全性を検証する。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// Intake は新規リクエストの受付を行う。
type Intake struct {
	engine    *content.Engine
	enqueuer  Enqueuer
	validator URLValidator
	logger    *slog.Logger
}

// NewIntake はIntakeを生成する。validatorがnilの場合は形式チェックのみ行う。
func NewIntake(engine *content.Engine, enqueuer Enqueuer, validator URLValidator, logger *slog.Logger) *Intake {
	return &Intake{engine: engine, enqueuer: enqueuer, validator: validator, logger: logger}
}

// Submit は入力を検証してqueuedのレコードを作成し、generateジョブを投入する。
// 投入に失敗した場合はQueueUnavailableを返す（レコードはqueuedのまま残る）。
func (in *Intake) Submit(ctx context.Context, sourceURL, userEmail string) (*model.ContentRequest, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	userEmail = strings.TrimSpace(userEmail)

	if err := in.Validate(sourceURL, userEmail); err != nil {
		return nil, err
	}

	req, err := in.engine.Create(ctx, sourceURL, userEmail)
	if err != nil {
		return nil, err
	}

	enqueueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	if err := in.enqueuer.Enqueue(enqueueCtx, dispatch.Job{Kind: dispatch.KindGenerate, RequestID: req.RequestID}); err != nil {
		in.logger.Error("生成ジョブの投入に失敗しました",
			slog.String("request_id", req.RequestID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewQueueUnavailableError(err)
	}
	return req, nil
}

// Validate はソースURLとメールアドレスの形式を検証する。
func (in *Intake) Validate(sourceURL, userEmail string) error {
	if sourceURL == "" {
		return model.NewValidationError("youtubeUrl", "is required")
	}
	if !sourceURLPattern.MatchString(sourceURL) {
		return model.NewValidationError("youtubeUrl", "must be an http(s) URL")
	}
	if in.validator != nil {
		if err := in.validator.ValidateURL(sourceURL); err != nil {
			apiErr := model.NewValidationError("youtubeUrl", "points to a disallowed host")
			apiErr.Err = err
			return apiErr
		}
	}
	if userEmail == "" {
		return model.NewValidationError("userEmail", "is required")
	}
	if !emailPattern.MatchString(userEmail) {
		return model.NewValidationError("userEmail", "must be a valid email address")
	}
	return nil
}
