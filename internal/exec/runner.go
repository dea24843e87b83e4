package exec

import (
	"context"
	"errors"
	"strings"
	"time"

	"codecollab/internal/metrics"
	"codecollab/internal/models"
	"codecollab/internal/utils"
)

// Submission is one compile-and-run request handed to a sandbox backend.
type Submission struct {
	Language LanguageSpec
	Code     string
	Stdin    string
}

// Sandbox compiles and runs a submission. Implementations return an
// *models.AppError for failures that carry sandbox diagnostics.
type Sandbox interface {
	Submit(ctx context.Context, sub Submission) (models.ExecuteResult, error)
}

const DefaultTimeout = 15 * time.Second

// Runner validates execution requests, translates the language tag and
// forwards them to the configured sandbox under its own timeout. It holds no
// per-room state and is safe for concurrent use.
type Runner struct {
	sandbox Sandbox
	timeout time.Duration
	log     *utils.Logger
}

func NewRunner(sandbox Sandbox, timeout time.Duration, log *utils.Logger) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = utils.NewNopLogger()
	}
	return &Runner{sandbox: sandbox, timeout: timeout, log: log}
}

func (r *Runner) Execute(ctx context.Context, req models.ExecuteRequest) (models.ExecuteResult, error) {
	if strings.TrimSpace(req.Code) == "" || strings.TrimSpace(string(req.Language)) == "" {
		return models.ExecuteResult{}, models.NewError(models.KindValidation, "Code and language are required")
	}
	spec, ok := Lookup(req.Language)
	if !ok {
		return models.ExecuteResult{}, &models.AppError{
			Kind:    models.KindUnsupportedLanguage,
			Message: "Unsupported language",
			Details: map[string]string{"language": string(req.Language)},
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	res, err := r.sandbox.Submit(ctx, Submission{Language: spec, Code: req.Code, Stdin: req.Input})
	elapsed := time.Since(start)

	if err != nil {
		err = r.classify(ctx, err)
		metrics.Execution(string(spec.Name), string(models.KindOf(err)), elapsed)
		r.log.Warn("execution failed", "language", spec.Name, "elapsed", elapsed, "error", err)
		return models.ExecuteResult{}, err
	}
	metrics.Execution(string(spec.Name), "ok", elapsed)
	return res, nil
}

func (r *Runner) classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &models.AppError{
			Kind:    models.KindExternalService,
			Message: "Code execution timed out",
			Details: map[string]string{"timeout": r.timeout.String()},
			Err:     err,
		}
	}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return models.WrapError(models.KindExternalService, "Code execution failed", err)
}
