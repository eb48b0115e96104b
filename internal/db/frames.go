package db

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"thirdcoast.systems/reelwatch/internal/fingerprint"
)

// hashBits encodes a frame hash as a BIT(64) value, most significant bit first.
func hashBits(h fingerprint.Hash) pgtype.Bits {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(h))
	return pgtype.Bits{Bytes: b, Len: fingerprint.HashBits, Valid: true}
}

// PersistFingerprints upserts the frame hashes of shortcode on
// (reel_shortcode, timestamp_seconds). The reel row must already exist.
func (s *ReelStore) PersistFingerprints(ctx context.Context, shortcode string, fps []fingerprint.Fingerprint) (int, error) {
	if len(fps) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, fp := range fps {
		batch.Queue(`
			INSERT INTO video_frames (reel_shortcode, timestamp_seconds, phash)
			VALUES ($1, $2, $3)
			ON CONFLICT (reel_shortcode, timestamp_seconds) DO UPDATE SET phash = EXCLUDED.phash
		`, shortcode, fp.TimestampSeconds, hashBits(fp.Hash))
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range fps {
		if _, err := results.Exec(); err != nil {
			return 0, fmt.Errorf("save fingerprints of %s: %w", shortcode, err)
		}
	}
	return len(fps), nil
}

// NearestNeighbors returns stored frames within maxDistance bits of hash,
// closest first.
func (s *ReelStore) NearestNeighbors(ctx context.Context, hash fingerprint.Hash, maxDistance, limit int) ([]fingerprint.Neighbor, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT reel_shortcode, distance
		FROM (
			SELECT reel_shortcode, bit_count(phash # $1::bit(64))::int AS distance
			FROM video_frames
		) f
		WHERE distance <= $2
		ORDER BY distance
		LIMIT $3
	`, hashBits(hash), maxDistance, limit)
	if err != nil {
		return nil, fmt.Errorf("query similar frames: %w", err)
	}
	defer rows.Close()

	var out []fingerprint.Neighbor
	for rows.Next() {
		var n fingerprint.Neighbor
		if err := rows.Scan(&n.Shortcode, &n.Distance); err != nil {
			return nil, fmt.Errorf("scan similar frame: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
