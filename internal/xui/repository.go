package xui

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Stream types in the XUI streams table.
const (
	streamTypeMovie   = 2
	streamTypeEpisode = 5
)

// Repository writes catalog rows into an XUI panel schema. The schema
// is owned by the panel software; this code only adds the provenance
// columns it needs and otherwise works within the existing tables.
type Repository struct {
	db  *sqlx.DB
	log *slog.Logger

	databaseName string
}

func NewRepository(db *sqlx.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{db: db, log: logger}
}

// DB exposes the underlying engine for the normalizer.
func (r *Repository) DB() *sqlx.DB { return r.db }

func (r *Repository) schema(ctx context.Context) (string, error) {
	if r.databaseName != "" {
		return r.databaseName, nil
	}
	var name sql.NullString
	if err := r.db.GetContext(ctx, &name, `SELECT DATABASE()`); err != nil {
		return "", err
	}
	if !name.Valid || name.String == "" {
		return "", errors.New("could not resolve the XUI schema name")
	}
	r.databaseName = name.String
	return r.databaseName, nil
}

// EnsureCompatibility adds the provenance columns older panels lack.
// Probing information_schema first keeps the ALTER idempotent.
func (r *Repository) EnsureCompatibility(ctx context.Context) error {
	schema, err := r.schema(ctx)
	if err != nil {
		return err
	}
	if err := r.ensureColumn(ctx, schema, "streams", "source_tag_filmes",
		"ALTER TABLE `streams` ADD COLUMN `source_tag_filmes` VARCHAR(255) NULL"); err != nil {
		return err
	}
	return r.ensureColumn(ctx, schema, "streams_series", "source_tag",
		"ALTER TABLE `streams_series` ADD COLUMN `source_tag` VARCHAR(255) NULL")
}

func (r *Repository) ensureColumn(ctx context.Context, schema, table, column, ddl string) error {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM information_schema.COLUMNS
		 WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND COLUMN_NAME = ?`,
		schema, table, column)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	r.log.Info("adding missing column", "table", table, "column", column)
	_, err = r.db.ExecContext(ctx, ddl)
	return err
}

// serializeCategories deduplicates category ids preserving order and
// renders the JSON array the panel stores in category_id.
func serializeCategories(ids []int64) string {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	payload, _ := json.Marshal(out)
	return string(payload)
}

// ExistingStream is a dedup hit in the streams table.
type ExistingStream struct {
	ID              int64
	CategoryIDs     []int64
	StreamIcon      string
	TargetContainer *string
	Properties      map[string]any
	SourceTag       *string
}

type existingStreamRow struct {
	ID              int64          `db:"id"`
	CategoryID      sql.NullString `db:"category_id"`
	StreamIcon      sql.NullString `db:"stream_icon"`
	TargetContainer sql.NullString `db:"target_container"`
	MovieProperties sql.NullString `db:"movie_properties"`
	SourceTag       sql.NullString `db:"source_tag"`
}

func (row existingStreamRow) toExisting() *ExistingStream {
	out := &ExistingStream{ID: row.ID, StreamIcon: row.StreamIcon.String}
	// Malformed JSON in panel-owned columns is treated as empty
	// rather than failing the whole import.
	var cats []int64
	if err := json.Unmarshal([]byte(row.CategoryID.String), &cats); err == nil {
		out.CategoryIDs = cats
	}
	var props map[string]any
	if err := json.Unmarshal([]byte(row.MovieProperties.String), &props); err == nil {
		out.Properties = props
	} else {
		out.Properties = map[string]any{}
	}
	if row.TargetContainer.Valid {
		v := row.TargetContainer.String
		out.TargetContainer = &v
	}
	if row.SourceTag.Valid {
		v := row.SourceTag.String
		out.SourceTag = &v
	}
	return out
}

// MovieByURL finds a movie stream whose source list contains the URL.
// The first URL of a stream is its identity, so a hit means the item
// was imported before.
func (r *Repository) MovieByURL(ctx context.Context, url string) (*ExistingStream, error) {
	return r.streamByURL(ctx, url, streamTypeMovie, "source_tag_filmes")
}

// EpisodeByURL finds an episode stream whose source list contains the URL.
func (r *Repository) EpisodeByURL(ctx context.Context, url string) (*ExistingStream, error) {
	return r.streamByURL(ctx, url, streamTypeEpisode, "source_tag")
}

func (r *Repository) streamByURL(ctx context.Context, url string, streamType int, tagColumn string) (*ExistingStream, error) {
	query := fmt.Sprintf(
		`SELECT id, category_id, stream_icon, target_container, movie_properties, %s AS source_tag
		 FROM streams
		 WHERE type = ? AND JSON_CONTAINS(stream_source, JSON_QUOTE(?))
		 LIMIT 1`, tagColumn)
	var row existingStreamRow
	err := r.db.GetContext(ctx, &row, query, streamType, url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toExisting(), nil
}

// StreamUpdate carries the mutable metadata of an existing stream.
type StreamUpdate struct {
	CategoryIDs     []int64
	Icon            string
	TargetContainer *string
	Properties      map[string]any
	SourceTag       *string
}

// UpdateMovieMetadata rewrites the metadata columns of a movie stream.
func (r *Repository) UpdateMovieMetadata(ctx context.Context, streamID int64, upd StreamUpdate) error {
	return r.updateStream(ctx, streamID, upd, "source_tag_filmes")
}

// UpdateEpisodeMetadata rewrites the metadata columns of an episode stream.
func (r *Repository) UpdateEpisodeMetadata(ctx context.Context, streamID int64, upd StreamUpdate) error {
	return r.updateStream(ctx, streamID, upd, "source_tag")
}

func (r *Repository) updateStream(ctx context.Context, streamID int64, upd StreamUpdate, tagColumn string) error {
	props, err := json.Marshal(nonNilProps(upd.Properties))
	if err != nil {
		return err
	}
	query := fmt.Sprintf(
		`UPDATE streams
		 SET category_id = ?, stream_icon = ?, target_container = ?, movie_properties = ?, %s = ?
		 WHERE id = ?`, tagColumn)
	_, err = r.db.ExecContext(ctx, query,
		serializeCategories(upd.CategoryIDs), upd.Icon, upd.TargetContainer, string(props), upd.SourceTag, streamID)
	return err
}

// InsertMovieParams describes a new movie stream.
type InsertMovieParams struct {
	Title           string
	CategoryID      int64
	URLs            []string
	Icon            string
	TargetContainer *string
	Properties      map[string]any
	SourceTag       *string
}

// InsertMovie creates a movie stream and returns its id.
func (r *Repository) InsertMovie(ctx context.Context, p InsertMovieParams) (int64, error) {
	categories := "[]"
	if p.CategoryID != 0 {
		categories = serializeCategories([]int64{p.CategoryID})
	}
	sources, err := json.Marshal(NormalizeStreamSource(p.URLs))
	if err != nil {
		return 0, err
	}
	props, err := json.Marshal(nonNilProps(p.Properties))
	if err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO streams
		   (category_id, stream_display_name, stream_source, stream_icon, type,
		    movie_properties, direct_source, target_container, source_tag_filmes)
		 VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		categories, p.Title, string(sources), p.Icon, streamTypeMovie,
		string(props), p.TargetContainer, p.SourceTag)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// SeriesRef identifies a series row and its provenance tag.
type SeriesRef struct {
	ID        int64
	SourceTag string
}

// FindSeries resolves a series by title and tag. A tagless row with a
// matching title is adopted: its tag is set to the requested one and
// the row is returned. Returns nil when no row matches.
func (r *Repository) FindSeries(ctx context.Context, title string, sourceTag string) (*SeriesRef, error) {
	var row struct {
		ID        int64          `db:"id"`
		SourceTag sql.NullString `db:"source_tag"`
	}

	tag := strings.TrimSpace(sourceTag)
	var tagParam *string
	if tag != "" {
		tagParam = &tag
	}
	err := r.db.GetContext(ctx, &row,
		`SELECT id, source_tag FROM streams_series
		 WHERE title = ? AND (? IS NULL OR source_tag = ?)
		 LIMIT 1`, title, tagParam, tagParam)
	if err == nil {
		return &SeriesRef{ID: row.ID, SourceTag: row.SourceTag.String}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if tag == "" {
		return nil, nil
	}

	// Adoption path: a series imported before tags existed keeps its
	// id but gains the tag of the line now importing it.
	err = r.db.GetContext(ctx, &row,
		`SELECT id, source_tag FROM streams_series
		 WHERE title = ? AND (source_tag IS NULL OR source_tag = '')
		 LIMIT 1`, title)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if _, err := r.db.ExecContext(ctx,
		`UPDATE streams_series SET source_tag = ? WHERE id = ?`, tag, row.ID); err != nil {
		return nil, err
	}
	return &SeriesRef{ID: row.ID, SourceTag: tag}, nil
}

// CreateSeriesParams describes a new series row.
type CreateSeriesParams struct {
	Title        string
	CategoryID   int64
	Cover        string
	Backdrop     string
	Plot         string
	Rating       *float64
	TMDBLanguage string
	SourceTag    *string
}

// CreateSeries inserts a series row and returns its id.
func (r *Repository) CreateSeries(ctx context.Context, p CreateSeriesParams) (int64, error) {
	categories := "[]"
	if p.CategoryID != 0 {
		categories = serializeCategories([]int64{p.CategoryID})
	}
	backdrops := "[]"
	if p.Backdrop != "" {
		payload, err := json.Marshal([]string{p.Backdrop})
		if err != nil {
			return 0, err
		}
		backdrops = string(payload)
	}
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO streams_series\n"+
			"  (title, category_id, cover, cover_big, backdrop_path, plot, `cast`,\n"+
			"   rating, youtube_trailer, tmdb_language, source_tag)\n"+
			"VALUES (?, ?, ?, ?, ?, ?, '', ?, '', ?, ?)",
		p.Title, categories, p.Cover, p.Cover, backdrops, p.Plot,
		p.Rating, p.TMDBLanguage, p.SourceTag)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// InsertEpisodeParams describes a new episode stream and its slot in
// the series.
type InsertEpisodeParams struct {
	StreamTitle     string
	CategoryID      int64
	URLs            []string
	Icon            string
	TargetContainer *string
	Properties      map[string]any
	SeriesID        int64
	Season          int
	Episode         int
	SourceTag       *string
}

// InsertEpisode creates the stream row and its streams_episodes link
// in one transaction, returning the stream id.
func (r *Repository) InsertEpisode(ctx context.Context, p InsertEpisodeParams) (int64, error) {
	categories := "[]"
	if p.CategoryID != 0 {
		categories = serializeCategories([]int64{p.CategoryID})
	}
	sources, err := json.Marshal(NormalizeStreamSource(p.URLs))
	if err != nil {
		return 0, err
	}
	props, err := json.Marshal(nonNilProps(p.Properties))
	if err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO streams
		   (category_id, stream_display_name, stream_source, stream_icon, type,
		    movie_properties, direct_source, target_container, source_tag)
		 VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		categories, p.StreamTitle, string(sources), p.Icon, streamTypeEpisode,
		string(props), p.TargetContainer, p.SourceTag)
	if err != nil {
		return 0, err
	}
	streamID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO streams_episodes (season_num, episode_num, series_id, stream_id)
		 VALUES (?, ?, ?, ?)`,
		p.Season, p.Episode, p.SeriesID, streamID); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return streamID, nil
}

// AppendMovieToBouquet adds a stream id to a bouquet's movie list if
// not already present. The row is locked to keep the read-modify-write
// safe against concurrent jobs.
func (r *Repository) AppendMovieToBouquet(ctx context.Context, bouquetID, streamID int64) error {
	return r.appendToBouquet(ctx, bouquetID, streamID, "bouquet_movies")
}

// AppendSeriesToBouquet adds a series id to a bouquet's series list.
func (r *Repository) AppendSeriesToBouquet(ctx context.Context, bouquetID, seriesID int64) error {
	return r.appendToBouquet(ctx, bouquetID, seriesID, "bouquet_series")
}

func (r *Repository) appendToBouquet(ctx context.Context, bouquetID, memberID int64, column string) error {
	if bouquetID == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current sql.NullString
	query := fmt.Sprintf(`SELECT %s FROM bouquets WHERE id = ? FOR UPDATE`, column)
	if err := tx.GetContext(ctx, &current, query, bouquetID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}

	var members []int64
	if current.Valid && current.String != "" {
		// Unparseable bouquet JSON starts over from empty.
		_ = json.Unmarshal([]byte(current.String), &members)
	}
	for _, m := range members {
		if m == memberID {
			return tx.Commit()
		}
	}
	members = append(members, memberID)
	payload, err := json.Marshal(members)
	if err != nil {
		return err
	}
	update := fmt.Sprintf(`UPDATE bouquets SET %s = ? WHERE id = ?`, column)
	if _, err := tx.ExecContext(ctx, update, string(payload), bouquetID); err != nil {
		return err
	}
	return tx.Commit()
}

// Bouquet is one entry of the panel's bouquets table.
type Bouquet struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"bouquet_name" json:"name"`
}

// ListBouquets returns the panel's bouquets.
func (r *Repository) ListBouquets(ctx context.Context) ([]Bouquet, error) {
	bouquets := []Bouquet{}
	err := r.db.SelectContext(ctx, &bouquets,
		`SELECT id, bouquet_name FROM bouquets ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return bouquets, nil
}

// PanelCategory is one entry of the panel's streams_categories table.
type PanelCategory struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"category_name" json:"name"`
	Type string `db:"category_type" json:"type"`
}

// ListCategories returns the panel's VOD and series categories.
func (r *Repository) ListCategories(ctx context.Context) ([]PanelCategory, error) {
	categories := []PanelCategory{}
	err := r.db.SelectContext(ctx, &categories,
		`SELECT id, category_name, category_type FROM streams_categories
		 WHERE category_type IN ('movie', 'series')
		 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return categories, nil
}

func nonNilProps(props map[string]any) map[string]any {
	if props == nil {
		return map[string]any{}
	}
	return props
}
