package worker

import (
	"context"
	"errors"
	"log/slog"
	"multimodal/internal/apperrors"
)

// Advances reports whether a candidate's failure moves a fallback chain on to
// the next candidate. Missing models, timeouts, unusable output and providers
// still loading after their retry advance; authentication, malformed
// requests, rate limiting and configuration problems would recur identically
// and abort the chain.
func Advances(err error) bool {
	return errors.Is(err, apperrors.ErrModelGone) ||
		errors.Is(err, apperrors.ErrTimeout) ||
		errors.Is(err, apperrors.ErrInvalidOutput) ||
		errors.Is(err, apperrors.ErrTransient) ||
		apperrors.IsRetryExhausted(err)
}

// runFallback tries candidates in priority order. Exhausting the chain
// yields a failure that carries the last candidate's error.
func runFallback(
	ctx context.Context,
	logger *slog.Logger,
	adapter string,
	candidates []string,
	try func(ctx context.Context, candidate string) (*Result, error),
) (*Result, error) {
	if len(candidates) == 0 {
		return nil, apperrors.Configuration(adapter, "no candidates configured")
	}

	var last error
	for i, candidate := range candidates {
		res, err := try(ctx, candidate)
		if err == nil {
			if i > 0 {
				logger.Info("Fallback candidate succeeded", "adapter", adapter, "candidate", candidate, "position", i+1)
			}
			return res, nil
		}
		if !Advances(err) {
			return nil, err
		}
		last = err
		logger.Warn("Candidate failed, advancing",
			"adapter", adapter,
			"candidate", candidate,
			"kind", apperrors.Kind(err),
			"error", err,
		)
		if ctx.Err() != nil {
			break
		}
	}
	if len(candidates) == 1 {
		return nil, last
	}
	return nil, apperrors.FallbackExhausted(adapter, len(candidates), last)
}
