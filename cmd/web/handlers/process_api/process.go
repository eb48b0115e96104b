// Package process_api runs the pipeline synchronously for API callers.
package process_api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"thirdcoast.systems/reelwatch/cmd/web/auth"
	"thirdcoast.systems/reelwatch/cmd/web/handlers/common"
	"thirdcoast.systems/reelwatch/internal/pipeline"
)

// BatchRunner is satisfied by *pipeline.Processor.
type BatchRunner interface {
	ProcessBatch(ctx context.Context, identifiers []string, opts pipeline.Options) []pipeline.BatchResult
}

type processRequest struct {
	Identifiers   []string `json:"identifiers" validate:"required,min=1,dive,required"`
	Force         bool     `json:"force"`
	SkipSentiment bool     `json:"skip_sentiment"`
}

type processItem struct {
	Identifier string           `json:"identifier"`
	Result     *pipeline.Result `json:"result,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// HandleProcess runs every identifier and answers once all runs finish.
func HandleProcess(runner BatchRunner) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req processRequest
		if err := c.Bind(&req); err != nil {
			return common.ErrBadRequest("invalid json")
		}
		if err := c.Validate(&req); err != nil {
			return common.ErrBadRequest("identifiers is required")
		}

		ids := common.NormalizeIdentifiers(req.Identifiers)
		if len(ids) == 0 {
			return common.ErrBadRequest("identifiers is required")
		}
		if len(ids) > common.MaxBatch {
			return common.ErrBadRequest("too many identifiers")
		}

		subject, _ := c.Get(auth.SubjectKey).(string)
		slog.Info("api process request", "subject", subject, "identifiers", len(ids), "force", req.Force, "skip_sentiment", req.SkipSentiment)

		results := runner.ProcessBatch(c.Request().Context(), ids, pipeline.Options{
			Force:             req.Force,
			SkipSentimentGate: req.SkipSentiment,
		})

		items := make([]processItem, len(results))
		for i, r := range results {
			items[i] = processItem{Identifier: r.Identifier, Result: r.Result}
			if r.Err != nil {
				items[i].Error = r.Err.Error()
			}
		}
		return c.JSON(http.StatusOK, map[string]any{"results": items})
	}
}
