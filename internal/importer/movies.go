package importer

import (
	"context"
	"strconv"

	"github.com/openxui/panelsync/internal/metrics"
	"github.com/openxui/panelsync/internal/models"
	"github.com/openxui/panelsync/internal/xtream"
	"github.com/openxui/panelsync/internal/xui"
)

// RunMovies synchronizes the tenant's movie catalog into the panel.
// Upstream fetch and schema preparation failures are fatal; per-item
// failures bump the error counter and the run continues.
func (im *Importer) RunMovies(ctx context.Context, jobID int64) error {
	metrics.JobsStarted.WithLabelValues(string(models.JobKindMovies)).Inc()
	s := im.newRun(jobID, models.JobKindMovies, 0)

	if err := im.prepare(ctx, s); err != nil {
		return s.fail(ctx, err)
	}
	if s.persistErr != nil {
		return s.fail(ctx, s.persistErr)
	}

	categories, err := im.source.GetVODCategories(ctx)
	if err != nil {
		return s.fail(ctx, err)
	}
	catNames := categoryNames(categories)

	streams, err := im.source.GetVODStreams(ctx)
	if err != nil {
		return s.fail(ctx, err)
	}
	streams = streams[:im.limit(len(streams))]
	s.total = len(streams)

	ignore := NewIgnoreMatcher(im.opts.Ignore.Movies)
	adult := NewAdultClassifier(im.opts)

	for _, stream := range streams {
		if err := ctx.Err(); err != nil {
			return s.fail(ctx, err)
		}
		im.importMovie(ctx, s, stream, catNames, ignore, adult)
		s.step(ctx)
		if s.persistErr != nil {
			return s.fail(ctx, s.persistErr)
		}
	}

	return s.finish(ctx)
}

func (im *Importer) importMovie(ctx context.Context, s *runState, stream xtream.VODStream, catNames map[string]string, ignore *IgnoreMatcher, adult *AdultClassifier) {
	categoryID := stream.CategoryID.String()
	categoryName := catNames[categoryID]

	if stream.Name == "" || stream.StreamID.Int64() == 0 {
		s.counters.Ignored++
		s.logItem(ctx, models.ItemLog{
			Action: models.ActionIgnored, ItemType: "movie",
			Title: stream.Name, Category: categoryName, Reason: ReasonMissingData,
		})
		return
	}

	if reason, skip := ignore.Match(categoryID, categoryName, stream.Name); skip {
		s.counters.Ignored++
		s.logItem(ctx, models.ItemLog{
			Action: models.ActionIgnored, ItemType: "movie",
			Title: stream.Name, Category: categoryName, Reason: reason,
		})
		return
	}

	title := CleanTitle(stream.Name)

	target := im.targetCategory(categoryID)
	if target == 0 {
		s.counters.Ignored++
		s.logItem(ctx, models.ItemLog{
			Action: models.ActionIgnored, ItemType: "movie",
			Title: title, Category: categoryName, Reason: ReasonMissingMapping,
		})
		return
	}

	ext := stream.ContainerExtension
	if ext == "" {
		ext = defaultMovieExt
	}
	url := im.source.MovieURL(stream.StreamID.Int64(), ext)
	tag := xui.SourceTagFromURL(url)
	s.tags = append(s.tags, tag)

	isAdult := adult.IsAdult(categoryID, categoryName, stream.Name, "")

	existing, seen := s.lookups[url]
	if !seen {
		var err error
		existing, err = im.catalog.MovieByURL(ctx, url)
		if err != nil {
			s.itemError(ctx, "movie", title, categoryName, err)
			return
		}
		s.lookups[url] = existing
	}

	if existing != nil {
		im.reconcileMovie(ctx, s, title, stream.StreamIcon, existing, target, tag, categoryName, ext)
		return
	}

	props := im.movieProperties(ctx, title, stream.StreamIcon)
	var tagPtr *string
	if tag != "" {
		tagPtr = &tag
	}
	var streamID int64
	err := im.write(ctx, func() error {
		var insErr error
		streamID, insErr = im.catalog.InsertMovie(ctx, InsertMovieParams{
			Title:           title,
			CategoryID:      target,
			URLs:            []string{url},
			Icon:            stream.StreamIcon,
			TargetContainer: &ext,
			Properties:      props,
			SourceTag:       tagPtr,
		})
		return insErr
	})
	if err != nil {
		s.itemError(ctx, "movie", title, categoryName, err)
		return
	}
	s.lookups[url] = &ExistingStream{
		ID:              streamID,
		CategoryIDs:     []int64{target},
		StreamIcon:      stream.StreamIcon,
		TargetContainer: &ext,
		Properties:      props,
		SourceTag:       tagPtr,
	}

	s.counters.Inserted++
	s.logItem(ctx, models.ItemLog{
		Action: models.ActionInserted, ItemType: "movie",
		Title: title, Category: categoryName, StreamID: streamID,
	})

	if bouquet := bouquetFor(im.opts.Bouquets.Movies, im.opts.Bouquets.Adult, isAdult); bouquet != 0 {
		err := im.write(ctx, func() error {
			return im.catalog.AppendMovieToBouquet(ctx, bouquet, streamID)
		})
		if err != nil {
			im.log.Warn("append movie to bouquet", "stream", streamID, "bouquet", bouquet, "error", err)
		}
	}
}

// reconcileMovie handles a dedup hit: categories grow union-only and
// a missing provenance tag is backfilled. A hit with nothing to
// change counts as ignored.
func (im *Importer) reconcileMovie(ctx context.Context, s *runState, title, icon string, existing *ExistingStream, target int64, tag, categoryName, ext string) {
	union, grew := unionCategories(existing.CategoryIDs, target)
	needsTag := tag != "" && (existing.SourceTag == nil || *existing.SourceTag == "")

	if !grew && !needsTag {
		s.counters.Ignored++
		s.logItem(ctx, models.ItemLog{
			Action: models.ActionIgnored, ItemType: "movie",
			Title: title, Category: categoryName, Reason: ReasonDuplicate,
			StreamID: existing.ID,
		})
		return
	}

	if existing.StreamIcon != "" {
		icon = existing.StreamIcon
	}
	container := existing.TargetContainer
	if container == nil {
		container = &ext
	}
	sourceTag := existing.SourceTag
	if needsTag {
		sourceTag = &tag
	}
	err := im.write(ctx, func() error {
		return im.catalog.UpdateMovieMetadata(ctx, existing.ID, StreamUpdate{
			CategoryIDs:     union,
			Icon:            icon,
			TargetContainer: container,
			Properties:      existing.Properties,
			SourceTag:       sourceTag,
		})
	})
	if err != nil {
		s.itemError(ctx, "movie", title, categoryName, err)
		return
	}
	existing.CategoryIDs = union
	existing.SourceTag = sourceTag
	s.counters.Updated++
	s.logItem(ctx, models.ItemLog{
		Action: models.ActionUpdated, ItemType: "movie",
		Title: title, Category: categoryName, StreamID: existing.ID,
	})
}

// movieProperties builds the movie_properties JSON blob in the shape
// the panel UI expects, optionally enriched from TMDb.
func (im *Importer) movieProperties(ctx context.Context, title, icon string) map[string]any {
	cover := icon
	backdrop := icon
	props := map[string]any{
		"name":                   title,
		"o_name":                 title,
		"cover_big":              cover,
		"movie_image":            cover,
		"release_date":           "",
		"youtube_trailer":        "",
		"director":               "",
		"actors":                 "",
		"cast":                   "",
		"description":            "",
		"plot":                   "",
		"genre":                  "",
		"backdrop_path":          backdropList(backdrop),
		"duration_secs":          0,
		"duration":               "00:00:00",
		"video":                  []any{},
		"audio":                  []any{},
		"bitrate":                0,
		"rating":                 "",
		"tmdb_id":                "",
		"age":                    "",
		"mpaa_rating":            "",
		"rating_count_kinopoisk": 0,
		"country":                "",
		"kinopoisk_url":          "",
	}

	if im.enricher == nil {
		return props
	}
	meta, err := im.enricher.SearchMovie(ctx, title)
	if err != nil {
		im.log.Warn("tmdb movie lookup failed", "title", title, "error", err)
		return props
	}
	if meta == nil {
		return props
	}
	if meta.PosterURL != "" {
		props["cover_big"] = meta.PosterURL
		props["movie_image"] = meta.PosterURL
	}
	if meta.BackdropURL != "" {
		props["backdrop_path"] = backdropList(meta.BackdropURL)
	}
	props["plot"] = meta.Overview
	props["release_date"] = meta.ReleaseDate
	props["genre"] = meta.Genres
	if meta.Rating > 0 {
		props["rating"] = strconv.FormatFloat(meta.Rating, 'f', 1, 64)
	}
	if meta.TMDBID > 0 {
		props["tmdb_id"] = strconv.Itoa(meta.TMDBID)
	}
	return props
}

func backdropList(url string) []string {
	if url == "" {
		return []string{}
	}
	return []string{url}
}

func categoryNames(categories []xtream.Category) map[string]string {
	names := make(map[string]string, len(categories))
	for _, c := range categories {
		names[c.CategoryID.String()] = c.CategoryName
	}
	return names
}

func (s *runState) itemError(ctx context.Context, itemType, title, category string, err error) {
	s.counters.Errors++
	s.imp.log.Warn("item import failed", "type", itemType, "title", title, "error", err)
	s.logItem(ctx, models.ItemLog{
		Action: models.ActionError, ItemType: itemType,
		Title: title, Category: category, Reason: err.Error(),
	})
}
