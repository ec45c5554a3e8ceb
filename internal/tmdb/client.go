package tmdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	tmdbBaseURL      = "https://api.themoviedb.org/3"
	tmdbImageBaseURL = "https://image.tmdb.org/t/p"
)

// Client is a thin TMDb search client used to enrich imported items
// whose providers ship little or no metadata.
type Client struct {
	apiKey     string
	language   string
	httpClient *http.Client

	genres map[int]string
}

func NewClient(apiKey, language string) *Client {
	if language == "" {
		language = "en-US"
	}
	return &Client{
		apiKey:   apiKey,
		language: language,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// MovieResult is the subset of TMDb movie data an import consumes.
type MovieResult struct {
	TMDBID      int
	Title       string
	Overview    string
	PosterURL   string
	BackdropURL string
	ReleaseDate string
	Rating      float64
	Genres      string
}

// SeriesResult is the subset of TMDb TV data an import consumes.
type SeriesResult struct {
	TMDBID      int
	Name        string
	Overview    string
	PosterURL   string
	BackdropURL string
	Rating      float64
}

var trailingYear = regexp.MustCompile(`(\s*-\s*\d{4}$|\(\d{4}\))`)

// CleanTitle strips trailing year markers providers append to names,
// which otherwise defeat the search.
func CleanTitle(name string) string {
	return strings.TrimSpace(trailingYear.ReplaceAllString(name, ""))
}

// LoadGenres caches the movie genre id -> name map for one language.
func (c *Client) LoadGenres(ctx context.Context) error {
	var payload struct {
		Genres []struct {
			ID   int    `json:"id"`
			Name string `json:"name"`
		} `json:"genres"`
	}
	params := url.Values{"language": {c.language}}
	if err := c.get(ctx, "/genre/movie/list", params, &payload); err != nil {
		return err
	}
	c.genres = make(map[int]string, len(payload.Genres))
	for _, g := range payload.Genres {
		c.genres[g.ID] = g.Name
	}
	return nil
}

// SearchMovie returns the best match for a title, or nil when TMDb
// has none.
func (c *Client) SearchMovie(ctx context.Context, title string) (*MovieResult, error) {
	var payload struct {
		Results []struct {
			ID           int     `json:"id"`
			Title        string  `json:"title"`
			Overview     string  `json:"overview"`
			PosterPath   string  `json:"poster_path"`
			BackdropPath string  `json:"backdrop_path"`
			ReleaseDate  string  `json:"release_date"`
			VoteAverage  float64 `json:"vote_average"`
			GenreIDs     []int   `json:"genre_ids"`
		} `json:"results"`
	}
	params := url.Values{"query": {CleanTitle(title)}, "language": {c.language}}
	if err := c.get(ctx, "/search/movie", params, &payload); err != nil {
		return nil, err
	}
	if len(payload.Results) == 0 {
		return nil, nil
	}
	m := payload.Results[0]
	return &MovieResult{
		TMDBID:      m.ID,
		Title:       m.Title,
		Overview:    m.Overview,
		PosterURL:   imageURL(m.PosterPath, "w500"),
		BackdropURL: imageURL(m.BackdropPath, "original"),
		ReleaseDate: m.ReleaseDate,
		Rating:      m.VoteAverage,
		Genres:      c.genreNames(m.GenreIDs),
	}, nil
}

// SearchSeries returns the best match for a series name, or nil when
// TMDb has none.
func (c *Client) SearchSeries(ctx context.Context, name string) (*SeriesResult, error) {
	var payload struct {
		Results []struct {
			ID           int     `json:"id"`
			Name         string  `json:"name"`
			Overview     string  `json:"overview"`
			PosterPath   string  `json:"poster_path"`
			BackdropPath string  `json:"backdrop_path"`
			VoteAverage  float64 `json:"vote_average"`
		} `json:"results"`
	}
	params := url.Values{"query": {CleanTitle(name)}, "language": {c.language}}
	if err := c.get(ctx, "/search/tv", params, &payload); err != nil {
		return nil, err
	}
	if len(payload.Results) == 0 {
		return nil, nil
	}
	s := payload.Results[0]
	return &SeriesResult{
		TMDBID:      s.ID,
		Name:        s.Name,
		Overview:    s.Overview,
		PosterURL:   imageURL(s.PosterPath, "w500"),
		BackdropURL: imageURL(s.BackdropPath, "original"),
		Rating:      s.VoteAverage,
	}, nil
}

func (c *Client) genreNames(ids []int) string {
	if len(c.genres) == 0 {
		return ""
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if name, ok := c.genres[id]; ok {
			names = append(names, name)
		}
	}
	return strings.Join(names, ", ")
}

func (c *Client) get(ctx context.Context, path string, params url.Values, dst any) error {
	params.Set("api_key", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tmdbBaseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("tmdb %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func imageURL(path, size string) string {
	if path == "" {
		return ""
	}
	return tmdbImageBaseURL + "/" + size + path
}
