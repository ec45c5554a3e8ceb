package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Integration holds one tenant's connection to an XUI panel: the
// MySQL database the catalog is written to and the Xtream line the
// catalog is read from.
type Integration struct {
	ID       int64 `json:"id" db:"id"`
	TenantID int64 `json:"tenant_id" db:"tenant_id"`

	DBHost     string `json:"db_host" db:"db_host"`
	DBPort     int    `json:"db_port" db:"db_port"`
	DBName     string `json:"db_name" db:"db_name"`
	DBUser     string `json:"db_user" db:"db_user"`
	DBPassword string `json:"db_password" db:"db_password"`

	XtreamBaseURL  string `json:"xtream_base_url" db:"xtream_base_url"`
	XtreamUsername string `json:"xtream_username" db:"xtream_username"`
	XtreamPassword string `json:"xtream_password" db:"xtream_password"`

	Options Options `json:"options" db:"options"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Masked returns a copy safe to return over the API: secrets are
// replaced with a fixed placeholder so they never leave the server.
func (i Integration) Masked() Integration {
	out := i
	if out.DBPassword != "" {
		out.DBPassword = "********"
	}
	if out.XtreamPassword != "" {
		out.XtreamPassword = "********"
	}
	if out.Options.TMDB.APIKey != "" {
		out.Options.TMDB.APIKey = "********"
	}
	return out
}

// Options is the per-tenant import configuration. Stored as JSON;
// fields absent from the stored document keep their defaults.
type Options struct {
	// CategoryMapping maps source category ids to panel category ids.
	CategoryMapping map[string]int64 `json:"category_mapping"`
	Bouquets        BouquetOptions   `json:"bouquets"`
	AdultCategories []int64          `json:"adult_categories"`
	AdultKeywords   []string         `json:"adult_keywords"`
	Ignore          IgnoreOptions    `json:"ignore"`
	Retry           RetryOptions     `json:"retry"`
	ThrottleMs      int              `json:"throttle_ms"`
	MaxParallel     int              `json:"max_parallel"`
	LimitItems      *int             `json:"limit_items"`
	TMDB            TMDBOptions      `json:"tmdb"`
}

// BouquetOptions names the target bouquets new content is attached to.
// A nil id means the corresponding class of content joins no bouquet.
type BouquetOptions struct {
	Movies *int64 `json:"movies"`
	Series *int64 `json:"series"`
	Adult  *int64 `json:"adult"`
}

// IgnoreOptions holds the skip rules per catalog kind.
type IgnoreOptions struct {
	Movies IgnoreRules `json:"movies"`
	Series IgnoreRules `json:"series"`
}

// IgnoreRules filters source items before they are written. Matching
// order is category id, then category name, then title prefix.
type IgnoreRules struct {
	Categories    []string `json:"categories"`
	CategoryNames []string `json:"category_names"`
	Prefixes      []string `json:"prefixes"`
}

// RetryOptions controls upstream API retries.
type RetryOptions struct {
	Enabled        bool `json:"enabled"`
	MaxAttempts    int  `json:"max_attempts"`
	BackoffSeconds int  `json:"backoff_seconds"`
}

// TMDBOptions enables metadata enrichment from TMDB.
type TMDBOptions struct {
	Enabled  bool   `json:"enabled"`
	APIKey   string `json:"api_key"`
	Language string `json:"language"`
}

// DefaultOptions returns the options a tenant starts with.
func DefaultOptions() Options {
	return Options{
		CategoryMapping: map[string]int64{},
		AdultCategories: []int64{},
		AdultKeywords:   []string{},
		Ignore: IgnoreOptions{
			Movies: IgnoreRules{Categories: []string{}, CategoryNames: []string{}, Prefixes: []string{}},
			Series: IgnoreRules{Categories: []string{}, CategoryNames: []string{}, Prefixes: []string{}},
		},
		Retry: RetryOptions{
			Enabled:        true,
			MaxAttempts:    3,
			BackoffSeconds: 5,
		},
		ThrottleMs:  0,
		MaxParallel: 2,
		TMDB:        TMDBOptions{Language: "en-US"},
	}
}

// DecodeOptions merges a stored options document over the defaults.
// Keys present in the document win; everything else keeps its default,
// so an explicit "enabled": false survives while a missing retry block
// does not disable retries.
func DecodeOptions(raw []byte) (Options, error) {
	opts := DefaultOptions()
	if len(raw) == 0 {
		return opts, nil
	}
	if err := json.Unmarshal(raw, &opts); err != nil {
		return Options{}, fmt.Errorf("decode integration options: %w", err)
	}
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry.MaxAttempts = 1
	}
	if opts.MaxParallel < 1 {
		opts.MaxParallel = 1
	}
	return opts, nil
}
