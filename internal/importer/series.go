package importer

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/openxui/panelsync/internal/metrics"
	"github.com/openxui/panelsync/internal/models"
	"github.com/openxui/panelsync/internal/xtream"
	"github.com/openxui/panelsync/internal/xui"
)

// RunSeries synchronizes the tenant's series catalog. Progress is
// tracked per series; counters count the episodes underneath.
func (im *Importer) RunSeries(ctx context.Context, jobID int64) error {
	metrics.JobsStarted.WithLabelValues(string(models.JobKindSeries)).Inc()
	s := im.newRun(jobID, models.JobKindSeries, 0)

	if err := im.prepare(ctx, s); err != nil {
		return s.fail(ctx, err)
	}
	if s.persistErr != nil {
		return s.fail(ctx, s.persistErr)
	}

	categories, err := im.source.GetSeriesCategories(ctx)
	if err != nil {
		return s.fail(ctx, err)
	}
	catNames := categoryNames(categories)

	listings, err := im.source.GetSeries(ctx)
	if err != nil {
		return s.fail(ctx, err)
	}
	listings = listings[:im.limit(len(listings))]
	s.total = len(listings)

	ignore := NewIgnoreMatcher(im.opts.Ignore.Series)
	adult := NewAdultClassifier(im.opts)

	for _, listing := range listings {
		if err := ctx.Err(); err != nil {
			return s.fail(ctx, err)
		}
		im.importSeries(ctx, s, listing, catNames, ignore, adult)
		s.step(ctx)
		if s.persistErr != nil {
			return s.fail(ctx, s.persistErr)
		}
	}

	return s.finish(ctx)
}

func (im *Importer) importSeries(ctx context.Context, s *runState, listing xtream.SeriesListing, catNames map[string]string, ignore *IgnoreMatcher, adult *AdultClassifier) {
	categoryID := listing.CategoryID.String()
	categoryName := catNames[categoryID]

	if listing.Name == "" || listing.SeriesID.Int64() == 0 {
		s.counters.Ignored++
		s.logItem(ctx, models.ItemLog{
			Action: models.ActionIgnored, ItemType: "series",
			Title: listing.Name, Category: categoryName, Reason: ReasonMissingData,
		})
		return
	}

	if reason, skip := ignore.Match(categoryID, categoryName, listing.Name); skip {
		s.counters.Ignored++
		s.logItem(ctx, models.ItemLog{
			Action: models.ActionIgnored, ItemType: "series",
			Title: listing.Name, Category: categoryName, Reason: reason,
		})
		return
	}

	name := CleanTitle(listing.Name)

	target := im.targetCategory(categoryID)
	if target == 0 {
		s.counters.Ignored++
		s.logItem(ctx, models.ItemLog{
			Action: models.ActionIgnored, ItemType: "series",
			Title: name, Category: categoryName, Reason: ReasonMissingMapping,
		})
		return
	}

	info, err := im.source.GetSeriesInfo(ctx, listing.SeriesID.Int64())
	if err != nil {
		s.itemError(ctx, "series", name, categoryName, err)
		return
	}

	episodes := flattenEpisodes(info.Episodes)
	if len(episodes) == 0 {
		s.counters.Ignored++
		s.logItem(ctx, models.ItemLog{
			Action: models.ActionIgnored, ItemType: "series",
			Title: name, Category: categoryName, Reason: "no_episodes",
		})
		return
	}

	// The series tag is the majority tag across its episode URLs.
	tags := make([]string, 0, len(episodes))
	urls := make([]string, len(episodes))
	for i, ep := range episodes {
		ext := ep.ContainerExtension
		if ext == "" {
			ext = defaultSeriesExt
		}
		urls[i] = im.source.EpisodeURL(ep.ID.Int64(), ext)
		if tag := xui.SourceTagFromURL(urls[i]); tag != "" {
			tags = append(tags, tag)
		}
	}
	seriesTag := xui.MajorityTag(tags)
	s.tags = append(s.tags, seriesTag)

	isAdult := adult.IsAdult(categoryID, categoryName, listing.Name, listing.Genre)

	var seriesRef *SeriesRef
	inserted := 0

	for i, ep := range episodes {
		if err := ctx.Err(); err != nil {
			return
		}
		url := urls[i]
		epTitle := episodeTitle(name, ep)

		existing, seen := s.lookups[url]
		if !seen {
			var lookErr error
			existing, lookErr = im.catalog.EpisodeByURL(ctx, url)
			if lookErr != nil {
				s.itemError(ctx, "episode", epTitle, categoryName, lookErr)
				continue
			}
			s.lookups[url] = existing
		}
		if existing != nil {
			im.reconcileEpisode(ctx, s, existing, epTitle, categoryName, target, seriesTag)
			continue
		}

		if seriesRef == nil {
			ref, refErr := im.resolveSeries(ctx, listing, name, target, seriesTag)
			if refErr != nil {
				s.itemError(ctx, "episode", epTitle, categoryName, refErr)
				continue
			}
			seriesRef = ref
		}

		ext := ep.ContainerExtension
		if ext == "" {
			ext = defaultSeriesExt
		}
		var tagPtr *string
		if seriesTag != "" {
			tagPtr = &seriesTag
		}
		props := episodeProperties(epTitle, ep)
		var streamID int64
		err := im.write(ctx, func() error {
			var insErr error
			streamID, insErr = im.catalog.InsertEpisode(ctx, InsertEpisodeParams{
				StreamTitle:     epTitle,
				CategoryID:      target,
				URLs:            []string{url},
				Icon:            ep.Info.MovieImage,
				TargetContainer: &ext,
				Properties:      props,
				SeriesID:        seriesRef.ID,
				Season:          int(ep.Season.Int64()),
				Episode:         int(ep.EpisodeNum.Int64()),
				SourceTag:       tagPtr,
			})
			return insErr
		})
		if err != nil {
			s.itemError(ctx, "episode", epTitle, categoryName, err)
			continue
		}
		s.lookups[url] = &ExistingStream{
			ID:              streamID,
			CategoryIDs:     []int64{target},
			StreamIcon:      ep.Info.MovieImage,
			TargetContainer: &ext,
			Properties:      props,
			SourceTag:       tagPtr,
		}
		inserted++
		s.counters.Inserted++
		s.logItem(ctx, models.ItemLog{
			Action: models.ActionInserted, ItemType: "episode",
			Title: epTitle, Category: categoryName, StreamID: streamID,
		})
	}

	if seriesRef != nil && inserted > 0 {
		if bouquet := bouquetFor(im.opts.Bouquets.Series, im.opts.Bouquets.Adult, isAdult); bouquet != 0 {
			err := im.write(ctx, func() error {
				return im.catalog.AppendSeriesToBouquet(ctx, bouquet, seriesRef.ID)
			})
			if err != nil {
				im.log.Warn("append series to bouquet", "series", seriesRef.ID, "bouquet", bouquet, "error", err)
			}
		}
	}
}

func (im *Importer) reconcileEpisode(ctx context.Context, s *runState, existing *ExistingStream, epTitle, categoryName string, target int64, tag string) {
	union, grew := unionCategories(existing.CategoryIDs, target)
	needsTag := tag != "" && (existing.SourceTag == nil || *existing.SourceTag == "")

	if !grew && !needsTag {
		s.counters.Ignored++
		s.logItem(ctx, models.ItemLog{
			Action: models.ActionIgnored, ItemType: "episode",
			Title: epTitle, Category: categoryName, Reason: ReasonDuplicate,
			StreamID: existing.ID,
		})
		return
	}

	sourceTag := existing.SourceTag
	if needsTag {
		sourceTag = &tag
	}
	err := im.write(ctx, func() error {
		return im.catalog.UpdateEpisodeMetadata(ctx, existing.ID, StreamUpdate{
			CategoryIDs:     union,
			Icon:            existing.StreamIcon,
			TargetContainer: existing.TargetContainer,
			Properties:      existing.Properties,
			SourceTag:       sourceTag,
		})
	})
	if err != nil {
		s.itemError(ctx, "episode", epTitle, categoryName, err)
		return
	}
	existing.CategoryIDs = union
	existing.SourceTag = sourceTag
	s.counters.Updated++
	s.logItem(ctx, models.ItemLog{
		Action: models.ActionUpdated, ItemType: "episode",
		Title: epTitle, Category: categoryName, StreamID: existing.ID,
	})
}

// resolveSeries finds the series row by (title, tag), adopting a
// tagless row when one exists, and creates the row otherwise.
func (im *Importer) resolveSeries(ctx context.Context, listing xtream.SeriesListing, name string, target int64, tag string) (*SeriesRef, error) {
	ref, err := im.catalog.FindSeries(ctx, name, tag)
	if err != nil {
		return nil, err
	}
	if ref != nil {
		return ref, nil
	}

	cover := listing.Cover
	plot := listing.Plot
	backdrop := ""
	if len(listing.BackdropPath) > 0 {
		backdrop = listing.BackdropPath[0]
	}
	var rating *float64
	if r, err := strconv.ParseFloat(listing.Rating.String(), 64); err == nil && r > 0 {
		rating = &r
	}

	language := im.opts.TMDB.Language
	if im.enricher != nil && (cover == "" || plot == "") {
		if meta, err := im.enricher.SearchSeries(ctx, name); err == nil && meta != nil {
			if cover == "" {
				cover = meta.PosterURL
			}
			if plot == "" {
				plot = meta.Overview
			}
			if backdrop == "" {
				backdrop = meta.BackdropURL
			}
			if rating == nil && meta.Rating > 0 {
				r := meta.Rating
				rating = &r
			}
		}
	}

	var tagPtr *string
	if tag != "" {
		tagPtr = &tag
	}
	var id int64
	err = im.write(ctx, func() error {
		var insErr error
		id, insErr = im.catalog.CreateSeries(ctx, CreateSeriesParams{
			Title:        name,
			CategoryID:   target,
			Cover:        cover,
			Backdrop:     backdrop,
			Plot:         plot,
			Rating:       rating,
			TMDBLanguage: language,
			SourceTag:    tagPtr,
		})
		return insErr
	})
	if err != nil {
		return nil, err
	}
	return &SeriesRef{ID: id, SourceTag: tag}, nil
}

// flattenEpisodes orders the season map numerically, then by episode
// number, so inserts land in watch order.
func flattenEpisodes(seasons xtream.EpisodeMap) []xtream.Episode {
	keys := make([]string, 0, len(seasons))
	for k := range seasons {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, aerr := strconv.Atoi(keys[i])
		b, berr := strconv.Atoi(keys[j])
		if aerr != nil || berr != nil {
			return keys[i] < keys[j]
		}
		return a < b
	})

	var out []xtream.Episode
	for _, k := range keys {
		eps := append([]xtream.Episode{}, seasons[k]...)
		sort.Slice(eps, func(i, j int) bool {
			return eps[i].EpisodeNum.Int64() < eps[j].EpisodeNum.Int64()
		})
		out = append(out, eps...)
	}
	return out
}

func episodeTitle(seriesName string, ep xtream.Episode) string {
	if ep.Title != "" {
		return ep.Title
	}
	return fmt.Sprintf("%s S%02dE%02d", seriesName, ep.Season.Int64(), ep.EpisodeNum.Int64())
}

func episodeProperties(title string, ep xtream.Episode) map[string]any {
	duration := ep.Info.Duration
	if duration == "" {
		duration = "00:00:00"
	}
	return map[string]any{
		"name":          title,
		"movie_image":   ep.Info.MovieImage,
		"plot":          ep.Info.Plot,
		"release_date":  ep.Info.ReleaseDate.String(),
		"duration_secs": ep.Info.DurationSecs.Int64(),
		"duration":      duration,
		"rating":        ep.Info.Rating.String(),
		"season":        ep.Season.Int64(),
		"episode":       ep.EpisodeNum.Int64(),
	}
}
