package xtream

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// FlexInt decodes JSON values that providers emit as either a number
// or a numeric string. Empty strings and null decode to zero.
type FlexInt int64

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = FlexInt(n)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexInt(n)
	return nil
}

func (f FlexInt) Int64() int64 { return int64(f) }

// FlexString decodes JSON values that may arrive as a string or a
// number into a string.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return string(f) }

// FlexStringList accepts a JSON array of strings, a single string, or
// null. Backdrop paths in particular show up in all three shapes.
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = nil
		return nil
	}
	if data[0] == '[' {
		var list []FlexString
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		out := make([]string, 0, len(list))
		for _, s := range list {
			if s != "" {
				out = append(out, string(s))
			}
		}
		*f = out
		return nil
	}
	var s FlexString
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*f = nil
		return nil
	}
	*f = []string{string(s)}
	return nil
}

// Category is one entry from get_vod_categories / get_series_categories.
type Category struct {
	CategoryID   FlexString `json:"category_id"`
	CategoryName string     `json:"category_name"`
	ParentID     FlexInt    `json:"parent_id"`
}

// VODStream is one entry from get_vod_streams.
type VODStream struct {
	StreamID           FlexInt    `json:"stream_id"`
	Name               string     `json:"name"`
	CategoryID         FlexString `json:"category_id"`
	StreamIcon         string     `json:"stream_icon"`
	ContainerExtension string     `json:"container_extension"`
	Rating             FlexString `json:"rating"`
	Added              FlexString `json:"added"`
	TMDBID             FlexString `json:"tmdb_id"`
}

// SeriesListing is one entry from get_series.
type SeriesListing struct {
	SeriesID       FlexInt        `json:"series_id"`
	Name           string         `json:"name"`
	CategoryID     FlexString     `json:"category_id"`
	Cover          string         `json:"cover"`
	Plot           string         `json:"plot"`
	Cast           string         `json:"cast"`
	Director       string         `json:"director"`
	Genre          string         `json:"genre"`
	ReleaseDate    FlexString     `json:"releaseDate"`
	Rating         FlexString     `json:"rating"`
	BackdropPath   FlexStringList `json:"backdrop_path"`
	YoutubeTrailer string         `json:"youtube_trailer"`
	LastModified   FlexString     `json:"last_modified"`
}

// SeriesInfo is the get_series_info response for one series.
type SeriesInfo struct {
	Info     SeriesDetail `json:"info"`
	Episodes EpisodeMap   `json:"episodes"`
}

// SeriesDetail mirrors SeriesListing for the detail endpoint.
type SeriesDetail struct {
	Name           string         `json:"name"`
	Cover          string         `json:"cover"`
	Plot           string         `json:"plot"`
	Cast           string         `json:"cast"`
	Director       string         `json:"director"`
	Genre          string         `json:"genre"`
	ReleaseDate    FlexString     `json:"releaseDate"`
	Rating         FlexString     `json:"rating"`
	BackdropPath   FlexStringList `json:"backdrop_path"`
	YoutubeTrailer string         `json:"youtube_trailer"`
}

// Episode is one playable episode from get_series_info.
type Episode struct {
	ID                 FlexInt     `json:"id"`
	EpisodeNum         FlexInt     `json:"episode_num"`
	Season             FlexInt     `json:"season"`
	Title              string      `json:"title"`
	ContainerExtension string      `json:"container_extension"`
	Info               EpisodeInfo `json:"info"`
}

// EpisodeInfo is the optional metadata block attached to an episode.
type EpisodeInfo struct {
	MovieImage   string     `json:"movie_image"`
	Plot         string     `json:"plot"`
	ReleaseDate  FlexString `json:"releasedate"`
	Rating       FlexString `json:"rating"`
	DurationSecs FlexInt    `json:"duration_secs"`
	Duration     string     `json:"duration"`
}

func (e *EpisodeInfo) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	// Some panels send "info": [] when there is no metadata.
	if len(data) == 0 || data[0] == '[' || bytes.Equal(data, []byte("null")) {
		*e = EpisodeInfo{}
		return nil
	}
	type plain EpisodeInfo
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = EpisodeInfo(p)
	return nil
}

// EpisodeMap decodes the episodes block of get_series_info, which is
// served either as {"1": [...], "2": [...]} or as a bare list of
// season lists. Keys are the season numbers as sent by the panel.
type EpisodeMap map[string][]Episode

func (m *EpisodeMap) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*m = nil
		return nil
	}
	if data[0] == '{' {
		var plain map[string][]Episode
		if err := json.Unmarshal(data, &plain); err != nil {
			return err
		}
		*m = plain
		return nil
	}
	var seasons [][]Episode
	if err := json.Unmarshal(data, &seasons); err != nil {
		return err
	}
	out := make(map[string][]Episode, len(seasons))
	for _, eps := range seasons {
		for _, ep := range eps {
			key := strconv.FormatInt(ep.Season.Int64(), 10)
			out[key] = append(out[key], ep)
		}
	}
	*m = out
	return nil
}

// VODInfo is the get_vod_info response for one movie.
type VODInfo struct {
	Info      VODDetail `json:"info"`
	MovieData struct {
		StreamID           FlexInt    `json:"stream_id"`
		Name               string     `json:"name"`
		CategoryID         FlexString `json:"category_id"`
		ContainerExtension string     `json:"container_extension"`
	} `json:"movie_data"`
}

// VODDetail carries the extended movie metadata block.
type VODDetail struct {
	Name           string         `json:"name"`
	OName          string         `json:"o_name"`
	MovieImage     string         `json:"movie_image"`
	CoverBig       string         `json:"cover_big"`
	ReleaseDate    FlexString     `json:"releasedate"`
	YoutubeTrailer string         `json:"youtube_trailer"`
	Director       string         `json:"director"`
	Actors         string         `json:"actors"`
	Cast           string         `json:"cast"`
	Description    string         `json:"description"`
	Plot           string         `json:"plot"`
	Genre          string         `json:"genre"`
	BackdropPath   FlexStringList `json:"backdrop_path"`
	DurationSecs   FlexInt        `json:"duration_secs"`
	Duration       string         `json:"duration"`
	Rating         FlexString     `json:"rating"`
	TMDBID         FlexString     `json:"tmdb_id"`
	Country        string         `json:"country"`
	Age            FlexString     `json:"age"`
	MPAARating     FlexString     `json:"mpaa_rating"`
	KinopoiskURL   string         `json:"kinopoisk_url"`
}
