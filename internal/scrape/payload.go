package scrape

import (
	"strings"
	"time"

	"thirdcoast.systems/reelwatch/internal/pipeline"
)

// rawReel is one dataset item of the instagram-scraper actor.
type rawReel struct {
	ID             string       `json:"id"`
	ShortCode      string       `json:"shortCode"`
	Caption        string       `json:"caption"`
	OwnerID        string       `json:"ownerId"`
	OwnerUsername  string       `json:"ownerUsername"`
	Timestamp      string       `json:"timestamp"`
	VideoURL       string       `json:"videoUrl"`
	VideoViewCount int64        `json:"videoViewCount"`
	VideoPlayCount int64        `json:"videoPlayCount"`
	LikesCount     int64        `json:"likesCount"`
	CommentsCount  int64        `json:"commentsCount"`
	VideoDuration  float64      `json:"videoDuration"`
	LatestComments []rawComment `json:"latestComments"`
	Comments       []rawComment `json:"comments"`
}

type rawComment struct {
	ID            string       `json:"id"`
	Text          string       `json:"text"`
	OwnerUsername string       `json:"ownerUsername"`
	LikesCount    int64        `json:"likesCount"`
	Timestamp     string       `json:"timestamp"`
	Replies       []rawComment `json:"replies"`
}

func (c *Client) mapReel(raw rawReel) *pipeline.ScrapeResult {
	res := &pipeline.ScrapeResult{
		Reel: pipeline.Reel{
			Shortcode:       strings.TrimSpace(raw.ShortCode),
			InstagramID:     raw.ID,
			OwnerID:         raw.OwnerID,
			OwnerUsername:   raw.OwnerUsername,
			Caption:         c.cleanCaption(raw.Caption),
			PostedAt:        parseTimestamp(raw.Timestamp),
			VideoURL:        raw.VideoURL,
			ViewCount:       raw.VideoViewCount,
			PlayCount:       raw.VideoPlayCount,
			LikeCount:       raw.LikesCount,
			CommentCount:    raw.CommentsCount,
			DurationSeconds: raw.VideoDuration,
		},
	}

	// Older actor versions use "comments".
	rawComments := raw.LatestComments
	if len(rawComments) == 0 {
		rawComments = raw.Comments
	}
	for _, rc := range rawComments {
		if rc.ID == "" {
			continue
		}
		cm := mapComment(rc)
		for _, rr := range rc.Replies {
			if rr.ID == "" {
				continue
			}
			cm.Replies = append(cm.Replies, mapComment(rr))
		}
		res.Comments = append(res.Comments, cm)
	}
	return res
}

func mapComment(rc rawComment) pipeline.Comment {
	likes := rc.LikesCount
	if likes < 0 {
		likes = 0
	}
	return pipeline.Comment{
		ID:            rc.ID,
		Text:          rc.Text,
		OwnerUsername: rc.OwnerUsername,
		LikeCount:     likes,
		PostedAt:      parseTimestamp(rc.Timestamp),
	}
}

// parseTimestamp accepts the ISO-8601 forms the actor emits. Anything else
// is treated as unknown.
func parseTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z0700", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
