package xui

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/openxui/panelsync/internal/models"
)

// NormalizeStreamSource trims, drops empties and deduplicates a list
// of stream URLs, keeping first-seen order. The first element is the
// canonical identity of the stream.
func NormalizeStreamSource(urls []string) []string {
	out := make([]string, 0, len(urls))
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		trimmed := strings.TrimSpace(u)
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

// SourceTagFromURL derives the provenance tag for a stream URL: its
// lowercased host (with port when present).
func SourceTagFromURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(u.Host))
}

// MajorityTag returns the most frequent non-empty tag, or "" when the
// list has none. Ties resolve to the first tag reaching the top count.
func MajorityTag(tags []string) string {
	counts := make(map[string]int)
	best, bestCount := "", 0
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		counts[tag]++
		if counts[tag] > bestCount {
			best, bestCount = tag, counts[tag]
		}
	}
	return best
}

// parseStreamSource repairs a stored stream_source column value. The
// column should hold a JSON array of URLs but legacy rows carry bare
// strings, JSON strings, mixed-type arrays, duplicates and padding.
// It reports whether a rewrite is needed.
func parseStreamSource(value string) (normalized []string, firstURL string, changed bool) {
	if value == "" {
		return nil, "", false
	}

	var candidates []string
	var list []any
	if err := json.Unmarshal([]byte(value), &list); err == nil {
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				changed = true
				continue
			}
			candidates = append(candidates, s)
		}
	} else {
		var s string
		if err := json.Unmarshal([]byte(value), &s); err == nil {
			candidates = []string{s}
		} else {
			// Not JSON at all: treat the raw column value as one URL.
			candidates = []string{value}
		}
		changed = true
	}

	normalized = NormalizeStreamSource(candidates)
	if len(normalized) != len(candidates) {
		changed = true
	}
	for i := range normalized {
		if normalized[i] != candidates[i] {
			changed = true
			break
		}
	}
	if len(normalized) > 0 {
		firstURL = normalized[0]
	}
	return normalized, firstURL, changed
}

// Normalizer repairs stream_source columns and backfills provenance
// tags across an XUI schema before an import runs.
type Normalizer struct {
	db *sqlx.DB
}

func NewNormalizer(db *sqlx.DB) *Normalizer {
	return &Normalizer{db: db}
}

// Run normalizes all streams and series in one transaction and
// returns the counters for the job log.
func (n *Normalizer) Run(ctx context.Context) (models.NormalizationLog, error) {
	var result models.NormalizationLog

	tx, err := n.db.BeginTxx(ctx, nil)
	if err != nil {
		return result, err
	}
	defer tx.Rollback()

	movies, err := normalizeStreams(ctx, tx)
	if err != nil {
		return result, err
	}
	series, err := normalizeSeries(ctx, tx)
	if err != nil {
		return result, err
	}
	if err := tx.Commit(); err != nil {
		return result, err
	}

	result.Movies = movies
	result.Series = series
	return result, nil
}

type streamRow struct {
	ID           int64          `db:"id"`
	Type         sql.NullInt64  `db:"type"`
	StreamSource sql.NullString `db:"stream_source"`
	SourceTag    sql.NullString `db:"source_tag_filmes"`
}

func normalizeStreams(ctx context.Context, tx *sqlx.Tx) (models.MovieNormalizationStats, error) {
	var stats models.MovieNormalizationStats

	var rows []streamRow
	if err := tx.SelectContext(ctx, &rows,
		`SELECT id, type, stream_source, source_tag_filmes FROM streams`); err != nil {
		return stats, err
	}

	for _, row := range rows {
		stats.Total++

		normalized, firstURL, changed := parseStreamSource(row.StreamSource.String)
		if changed {
			payload, err := json.Marshal(normalized)
			if err != nil {
				return stats, err
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE streams SET stream_source = ? WHERE id = ?`, string(payload), row.ID); err != nil {
				return stats, err
			}
			stats.Updated++
		}

		if row.Type.Int64 == streamTypeMovie && strings.TrimSpace(row.SourceTag.String) == "" && firstURL != "" {
			if tag := SourceTagFromURL(firstURL); tag != "" {
				if _, err := tx.ExecContext(ctx,
					`UPDATE streams SET source_tag_filmes = ? WHERE id = ?`, tag, row.ID); err != nil {
					return stats, err
				}
				stats.MoviesTagged++
			}
		}
	}
	return stats, nil
}

func normalizeSeries(ctx context.Context, tx *sqlx.Tx) (models.SeriesNormalizationStats, error) {
	var stats models.SeriesNormalizationStats

	var series []struct {
		ID        int64          `db:"id"`
		SourceTag sql.NullString `db:"source_tag"`
	}
	if err := tx.SelectContext(ctx, &series,
		`SELECT id, source_tag FROM streams_series`); err != nil {
		return stats, err
	}

	for _, s := range series {
		stats.Total++
		if strings.TrimSpace(s.SourceTag.String) != "" {
			continue
		}

		var sources []sql.NullString
		if err := tx.SelectContext(ctx, &sources,
			`SELECT s.stream_source
			 FROM streams_episodes AS se
			 JOIN streams AS s ON s.id = se.stream_id
			 WHERE se.series_id = ? AND s.type = ?`, s.ID, streamTypeEpisode); err != nil {
			return stats, err
		}

		var tags []string
		for _, src := range sources {
			stats.EpisodesAnalyzed++
			_, firstURL, _ := parseStreamSource(src.String)
			if firstURL == "" {
				continue
			}
			if tag := SourceTagFromURL(firstURL); tag != "" {
				tags = append(tags, tag)
			}
		}

		major := MajorityTag(tags)
		if major == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE streams_series SET source_tag = ? WHERE id = ?`, major, s.ID); err != nil {
			return stats, err
		}
		stats.Tagged++
	}
	return stats, nil
}
