// Package webhooks handles Instagram mention webhooks.
package webhooks

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"thirdcoast.systems/reelwatch/cmd/web/handlers/common"
	"thirdcoast.systems/reelwatch/internal/pipeline"
)

// Submitter queues background runs and reports how many were accepted.
type Submitter interface {
	Submit(identifiers []string, opts pipeline.Options) int
}

// HandleVerify answers the Meta subscription handshake.
func HandleVerify(verifyToken string) echo.HandlerFunc {
	return func(c echo.Context) error {
		mode := c.QueryParam("hub.mode")
		token := c.QueryParam("hub.verify_token")
		challenge := c.QueryParam("hub.challenge")

		if verifyToken == "" || mode != "subscribe" || token != verifyToken {
			slog.Warn("webhook verification rejected", "mode", mode)
			return common.ErrForbidden("verification failed")
		}
		return c.String(http.StatusOK, challenge)
	}
}

// HandleMention extracts the mentioned reels from a webhook payload and
// starts a background run for each.
func HandleMention(sub Submitter) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return common.ErrBadRequest("could not read body")
		}

		var payload mentionPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return common.ErrBadRequest("invalid json")
		}

		ids := common.NormalizeIdentifiers(payload.identifiers())
		if len(ids) > common.MaxBatch {
			ids = ids[:common.MaxBatch]
		}
		queued := 0
		if len(ids) > 0 {
			queued = sub.Submit(ids, pipeline.Options{})
		}

		slog.Info("mention webhook received", "object", payload.Object, "identifiers", len(ids), "queued", queued)
		return c.JSON(http.StatusOK, map[string]any{"received": true, "queued": queued})
	}
}

type mentionPayload struct {
	Object    string `json:"object"`
	Shortcode string `json:"shortcode"`
	Permalink string `json:"permalink"`
	Entry     []struct {
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Shortcode string `json:"shortcode"`
				Permalink string `json:"permalink"`
				Media     struct {
					Shortcode string `json:"shortcode"`
					Permalink string `json:"permalink"`
				} `json:"media"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// identifiers prefers permalinks over bare shortcodes at each level.
func (p mentionPayload) identifiers() []string {
	var out []string
	add := func(candidates ...string) {
		for _, c := range candidates {
			if c = strings.TrimSpace(c); c != "" {
				out = append(out, c)
				return
			}
		}
	}

	add(p.Permalink, p.Shortcode)
	for _, e := range p.Entry {
		for _, ch := range e.Changes {
			add(ch.Value.Media.Permalink, ch.Value.Media.Shortcode, ch.Value.Permalink, ch.Value.Shortcode)
		}
	}
	return out
}
