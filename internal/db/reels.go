package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"thirdcoast.systems/reelwatch/internal/comments"
	"thirdcoast.systems/reelwatch/internal/pipeline"
)

// ReelStore keeps reels, their comments and their frame hashes.
type ReelStore struct {
	pool *pgxpool.Pool
}

func NewReelStore(dbc *DatabaseConnection) *ReelStore {
	return &ReelStore{pool: dbc.Pool}
}

type reelStats struct {
	VideoViewCount int64   `json:"video_view_count"`
	VideoPlayCount int64   `json:"video_play_count"`
	LikesCount     int64   `json:"likes_count"`
	CommentsCount  int64   `json:"comments_count"`
	VideoDuration  float64 `json:"video_duration"`
}

func statsFor(r pipeline.Reel) reelStats {
	return reelStats{
		VideoViewCount: r.ViewCount,
		VideoPlayCount: r.PlayCount,
		LikesCount:     r.LikeCount,
		CommentsCount:  r.CommentCount,
		VideoDuration:  r.DurationSeconds,
	}
}

// ReelExists returns the stored reel for shortcode, or nil.
func (s *ReelStore) ReelExists(ctx context.Context, shortcode string) (*pipeline.ReelRecord, error) {
	var rec pipeline.ReelRecord
	err := s.pool.QueryRow(ctx, `
		SELECT id, shortcode, mention_count
		FROM raw_instagram_reels
		WHERE shortcode = $1
	`, shortcode).Scan(&rec.ID, &rec.Shortcode, &rec.MentionCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reel %s: %w", shortcode, err)
	}
	return &rec, nil
}

// IncrementMentionCount bumps the counter in a single statement so concurrent
// runs for the same content never lose an update.
func (s *ReelStore) IncrementMentionCount(ctx context.Context, shortcode string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE raw_instagram_reels
		SET mention_count = mention_count + 1, updated_at = now()
		WHERE shortcode = $1
	`, shortcode)
	if err != nil {
		return fmt.Errorf("increment mention count of %s: %w", shortcode, err)
	}
	return nil
}

// PersistReel upserts the reel on its shortcode and returns its id.
func (s *ReelStore) PersistReel(ctx context.Context, reel pipeline.Reel, videoPath string, audioPath *string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO raw_instagram_reels (
			shortcode, instagram_id, owner_id, owner_username, caption, posted_at,
			stats, storage_bucket_path, storage_audio_path
		)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9)
		ON CONFLICT (shortcode) DO UPDATE SET
			instagram_id = EXCLUDED.instagram_id,
			owner_id = EXCLUDED.owner_id,
			owner_username = EXCLUDED.owner_username,
			caption = EXCLUDED.caption,
			posted_at = EXCLUDED.posted_at,
			stats = EXCLUDED.stats,
			storage_bucket_path = EXCLUDED.storage_bucket_path,
			storage_audio_path = EXCLUDED.storage_audio_path,
			updated_at = now()
		RETURNING id
	`,
		reel.Shortcode,
		reel.InstagramID,
		reel.OwnerID,
		reel.OwnerUsername,
		reel.Caption,
		reel.PostedAt,
		statsFor(reel),
		videoPath,
		audioPath,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save reel %s: %w", reel.Shortcode, err)
	}
	return id, nil
}

// PersistComments upserts each thread under groupingShortcode, recording
// sourceShortcode as where it was scraped. It returns the number of rows
// written, replies included.
func (s *ReelStore) PersistComments(ctx context.Context, cs []pipeline.Comment, groupingShortcode, sourceShortcode string) (int, error) {
	if len(cs) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	saved := 0
	for _, c := range cs {
		parentID, err := upsertComment(ctx, tx, c, groupingShortcode, sourceShortcode, nil)
		if err != nil {
			return 0, err
		}
		saved++

		for _, reply := range c.Replies {
			if _, err := upsertComment(ctx, tx, reply, groupingShortcode, sourceShortcode, &parentID); err != nil {
				return 0, err
			}
			saved++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit comments: %w", err)
	}
	return saved, nil
}

func upsertComment(ctx context.Context, tx pgx.Tx, c pipeline.Comment, grouping, source string, parentID *int64) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO instagram_comments (
			instagram_comment_id, reel_shortcode, source_shortcode, parent_comment_id,
			text_content, owner_username, like_count, posted_at
		)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
		ON CONFLICT (instagram_comment_id) DO UPDATE SET
			text_content = EXCLUDED.text_content,
			like_count = EXCLUDED.like_count
		RETURNING id
	`, c.ID, grouping, source, parentID, c.Text, c.OwnerUsername, c.LikeCount, c.PostedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save comment %s: %w", c.ID, err)
	}
	return id, nil
}

// ListComments returns every comment grouped under shortcode, newest first.
func (s *ReelStore) ListComments(ctx context.Context, shortcode string) ([]comments.Row, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, parent_comment_id, text_content, COALESCE(owner_username, ''), like_count, posted_at
		FROM instagram_comments
		WHERE reel_shortcode = $1
		ORDER BY posted_at DESC NULLS LAST, id
	`, shortcode)
	if err != nil {
		return nil, fmt.Errorf("list comments of %s: %w", shortcode, err)
	}
	defer rows.Close()

	var out []comments.Row
	for rows.Next() {
		var (
			id       int64
			parentID *int64
			row      comments.Row
		)
		if err := rows.Scan(&id, &parentID, &row.Text, &row.OwnerUsername, &row.LikeCount, &row.PostedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		row.ID = strconv.FormatInt(id, 10)
		if parentID != nil {
			p := strconv.FormatInt(*parentID, 10)
			row.ParentID = &p
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list comments of %s: %w", shortcode, err)
	}
	return out, nil
}
