package importer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/openxui/panelsync/internal/metrics"
	"github.com/openxui/panelsync/internal/models"
	"github.com/openxui/panelsync/internal/tmdb"
	"github.com/openxui/panelsync/internal/xtream"
	"github.com/openxui/panelsync/internal/xui"
)

// The catalog vocabulary is the repository's.
type (
	ExistingStream      = xui.ExistingStream
	StreamUpdate        = xui.StreamUpdate
	SeriesRef           = xui.SeriesRef
	InsertMovieParams   = xui.InsertMovieParams
	CreateSeriesParams  = xui.CreateSeriesParams
	InsertEpisodeParams = xui.InsertEpisodeParams
)

const (
	logFlushChunk    = 10
	progressChunk    = 10
	defaultMovieExt  = "mp4"
	defaultSeriesExt = "mkv"
)

// Source is the slice of the Xtream client an import consumes.
type Source interface {
	GetVODCategories(ctx context.Context) ([]xtream.Category, error)
	GetVODStreams(ctx context.Context) ([]xtream.VODStream, error)
	GetSeriesCategories(ctx context.Context) ([]xtream.Category, error)
	GetSeries(ctx context.Context) ([]xtream.SeriesListing, error)
	GetSeriesInfo(ctx context.Context, seriesID int64) (*xtream.SeriesInfo, error)
	MovieURL(streamID int64, ext string) string
	EpisodeURL(episodeID int64, ext string) string
}

// Catalog is the slice of the XUI repository an import consumes.
type Catalog interface {
	EnsureCompatibility(ctx context.Context) error
	MovieByURL(ctx context.Context, url string) (*ExistingStream, error)
	EpisodeByURL(ctx context.Context, url string) (*ExistingStream, error)
	InsertMovie(ctx context.Context, p InsertMovieParams) (int64, error)
	UpdateMovieMetadata(ctx context.Context, streamID int64, upd StreamUpdate) error
	UpdateEpisodeMetadata(ctx context.Context, streamID int64, upd StreamUpdate) error
	FindSeries(ctx context.Context, title, sourceTag string) (*SeriesRef, error)
	CreateSeries(ctx context.Context, p CreateSeriesParams) (int64, error)
	InsertEpisode(ctx context.Context, p InsertEpisodeParams) (int64, error)
	AppendMovieToBouquet(ctx context.Context, bouquetID, streamID int64) error
	AppendSeriesToBouquet(ctx context.Context, bouquetID, seriesID int64) error
}

// Normalizer repairs the destination schema before an import runs.
type Normalizer interface {
	Run(ctx context.Context) (models.NormalizationLog, error)
}

// Tracker persists job state as an import progresses.
type Tracker interface {
	UpdateProgress(ctx context.Context, jobID int64, progress float64, etaSec *float64, c Counters) error
	AppendLogs(ctx context.Context, logs []models.JobLog) error
	Finish(ctx context.Context, jobID int64, c Counters) error
	Fail(ctx context.Context, jobID int64, c Counters, message string) error
	SetSourceTag(ctx context.Context, jobID int64, tag string) error
}

// Enricher looks up external metadata for items whose provider ships
// none. A nil Enricher disables enrichment.
type Enricher interface {
	SearchMovie(ctx context.Context, title string) (*tmdb.MovieResult, error)
	SearchSeries(ctx context.Context, name string) (*tmdb.SeriesResult, error)
}

// Counters are the per-job outcome totals.
type Counters struct {
	Inserted int
	Updated  int
	Ignored  int
	Errors   int
}

// Importer walks a tenant's source catalog and replays it into the
// panel database, one job at a time.
type Importer struct {
	source     Source
	catalog    Catalog
	normalizer Normalizer
	tracker    Tracker
	enricher   Enricher
	opts       models.Options
	log        *slog.Logger

	writes   Policy
	throttle *throttle
	now      func() time.Time
}

func New(source Source, catalog Catalog, normalizer Normalizer, tracker Tracker, enricher Enricher, opts models.Options, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		source:     source,
		catalog:    catalog,
		normalizer: normalizer,
		tracker:    tracker,
		enricher:   enricher,
		opts:       opts,
		log:        logger,
		writes:     policyFrom(opts.Retry),
		throttle:   newThrottle(opts.MaxParallel, opts.ThrottleMs),
		now:        time.Now,
	}
}

// write runs a catalog mutation under the shared retry policy, then
// applies the tenant throttle.
func (im *Importer) write(ctx context.Context, op func() error) error {
	err := im.writes.Do(ctx, op)
	im.throttle.tick()
	return err
}

// runState accumulates per-job progress and buffers log writes so a
// large catalog does not turn into one database round-trip per item.
type runState struct {
	imp       *Importer
	jobID     int64
	kind      models.JobKind
	startedAt time.Time

	total     int
	processed int
	counters  Counters

	buffer []models.JobLog
	tags   []string

	// lookups memoizes URL dedup results for the life of the job, so a
	// source listing the same stream twice costs one catalog query.
	lookups map[string]*ExistingStream

	// persistErr records a failed log or progress write. Losing the
	// audit trail is fatal for the job, not a warning.
	persistErr error
}

func (im *Importer) newRun(jobID int64, kind models.JobKind, total int) *runState {
	return &runState{
		imp:       im,
		jobID:     jobID,
		kind:      kind,
		startedAt: im.now(),
		total:     total,
		lookups:   make(map[string]*ExistingStream),
	}
}

func (s *runState) logItem(ctx context.Context, entry models.ItemLog) {
	metrics.ItemsProcessed.WithLabelValues(string(s.kind), entry.Action).Inc()
	jl, err := models.NewJobLog(s.jobID, models.LogKindItem, entry)
	if err != nil {
		s.imp.log.Error("encode item log", "error", err)
		return
	}
	s.buffer = append(s.buffer, jl)
	if len(s.buffer) >= logFlushChunk {
		s.flushLogs(ctx)
	}
}

func (s *runState) logPayload(ctx context.Context, kind string, payload any) {
	jl, err := models.NewJobLog(s.jobID, kind, payload)
	if err != nil {
		s.imp.log.Error("encode job log", "kind", kind, "error", err)
		return
	}
	s.buffer = append(s.buffer, jl)
	s.flushLogs(ctx)
}

func (s *runState) flushLogs(ctx context.Context) {
	if len(s.buffer) == 0 {
		return
	}
	if err := s.imp.tracker.AppendLogs(ctx, s.buffer); err != nil {
		s.imp.log.Error("persist job logs", "job", s.jobID, "error", err)
		if s.persistErr == nil {
			s.persistErr = fmt.Errorf("persist job logs: %w", err)
		}
	}
	s.buffer = s.buffer[:0]
}

// step records one processed item and pushes progress on every chunk
// boundary and on the last item.
func (s *runState) step(ctx context.Context) {
	s.processed++
	if s.processed%progressChunk != 0 && s.processed != s.total {
		return
	}
	s.pushProgress(ctx)
}

func (s *runState) pushProgress(ctx context.Context) {
	progress := 1.0
	if s.total > 0 {
		progress = float64(s.processed) / float64(s.total)
	}
	eta := s.estimateETA()
	if err := s.imp.tracker.UpdateProgress(ctx, s.jobID, progress, eta, s.counters); err != nil {
		s.imp.log.Error("persist job progress", "job", s.jobID, "error", err)
		if s.persistErr == nil {
			s.persistErr = fmt.Errorf("persist job progress: %w", err)
		}
	}
}

// estimateETA projects remaining time from the average per-item cost
// so far. Nil until the first item lands and once nothing remains.
func (s *runState) estimateETA() *float64 {
	if s.processed <= 0 {
		return nil
	}
	remaining := s.total - s.processed
	if remaining <= 0 {
		return nil
	}
	elapsed := s.imp.now().Sub(s.startedAt).Seconds()
	eta := math.Ceil(elapsed / float64(s.processed) * float64(remaining))
	return &eta
}

func (s *runState) finish(ctx context.Context) error {
	duration := s.imp.now().Sub(s.startedAt).Seconds()
	s.logPayload(ctx, models.LogKindSummary, models.SummaryLog{
		Inserted:    s.counters.Inserted,
		Updated:     s.counters.Updated,
		Ignored:     s.counters.Ignored,
		Errors:      s.counters.Errors,
		DurationSec: duration,
	})
	if s.persistErr != nil {
		return s.fail(ctx, s.persistErr)
	}
	if tag := xui.MajorityTag(s.tags); tag != "" {
		if err := s.imp.tracker.SetSourceTag(ctx, s.jobID, tag); err != nil {
			s.imp.log.Error("persist job source tag", "job", s.jobID, "error", err)
		}
	}
	metrics.JobsFinished.WithLabelValues(string(s.kind), string(models.JobFinished)).Inc()
	metrics.JobDuration.WithLabelValues(string(s.kind)).Observe(duration)
	return s.imp.tracker.Finish(ctx, s.jobID, s.counters)
}

// fail marks the job failed after a fatal error. Per-item failures
// never reach here; they only bump the error counter.
func (s *runState) fail(ctx context.Context, cause error) error {
	s.counters.Errors++
	s.logPayload(ctx, models.LogKindError, models.ErrorLog{Message: cause.Error()})
	metrics.JobsFinished.WithLabelValues(string(s.kind), string(models.JobFailed)).Inc()
	if err := s.imp.tracker.Fail(ctx, s.jobID, s.counters, cause.Error()); err != nil {
		s.imp.log.Error("mark job failed", "job", s.jobID, "error", err)
	}
	return cause
}

// prepare runs the shared pre-flight: schema compatibility, source
// normalization, and the normalization log entry.
func (im *Importer) prepare(ctx context.Context, s *runState) error {
	if err := im.catalog.EnsureCompatibility(ctx); err != nil {
		return err
	}
	norm, err := im.normalizer.Run(ctx)
	if err != nil {
		return err
	}
	s.logPayload(ctx, models.LogKindNormalization, norm)
	return nil
}

// limit applies the tenant's item cap to a catalog slice length.
func (im *Importer) limit(n int) int {
	if im.opts.LimitItems != nil && *im.opts.LimitItems >= 0 && *im.opts.LimitItems < n {
		return *im.opts.LimitItems
	}
	return n
}

// targetCategory resolves the panel category for a source category id
// via the tenant mapping. Zero means unmapped.
func (im *Importer) targetCategory(categoryID string) int64 {
	if id, ok := im.opts.CategoryMapping[categoryID]; ok {
		return id
	}
	return 0
}

// bouquetFor picks the destination bouquet id, preferring the adult
// bouquet for adult content. Zero means no bouquet.
func bouquetFor(regular, adultBouquet *int64, isAdult bool) int64 {
	if isAdult && adultBouquet != nil {
		return *adultBouquet
	}
	if regular != nil {
		return *regular
	}
	return 0
}

// unionCategories merges the target category into the existing set,
// never removing ids other imports or the panel operator added.
func unionCategories(existing []int64, target int64) ([]int64, bool) {
	if target == 0 {
		return existing, false
	}
	for _, id := range existing {
		if id == target {
			return existing, false
		}
	}
	return append(append([]int64{}, existing...), target), true
}
