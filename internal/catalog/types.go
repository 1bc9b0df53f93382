// SPDX-License-Identifier: MIT

// Package catalog implements the typed read API over the central catalog
// database and the per-drive shard databases.
package catalog

// Drive is a catalogued removable drive.
type Drive struct {
	Label       string  `json:"label"`
	Type        *string `json:"type,omitempty"`
	LastScanUTC *string `json:"last_scan_utc,omitempty"`
	ShardPath   string  `json:"shard_path"`
}

// InventoryRow is one file in a drive shard.
type InventoryRow struct {
	Path       string  `json:"path"`
	SizeBytes  int64   `json:"size_bytes"`
	MtimeUTC   string  `json:"mtime_utc"`
	Ext        *string `json:"ext,omitempty"`
	Mime       *string `json:"mime,omitempty"`
	Category   *string `json:"category,omitempty"`
	DriveLabel string  `json:"drive_label"`
}

// CategoryStat aggregates one category on one drive.
type CategoryStat struct {
	DriveLabel string `json:"drive_label"`
	Category   string `json:"category"`
	Files      int64  `json:"files"`
	Bytes      int64  `json:"bytes"`
}

// FeatureMeta describes a stored embedding without its payload.
type FeatureMeta struct {
	Path       string `json:"path"`
	Kind       string `json:"kind"`
	Dim        int    `json:"dim"`
	FramesUsed int    `json:"frames_used"`
	UpdatedUTC string `json:"updated_utc"`
}

// FeatureVector is an embedding with its decoded payload. Vec is only
// populated when the caller opted into raw delivery or the vector is small.
type FeatureVector struct {
	FeatureMeta
	Vec []float32 `json:"vec,omitempty"`
}

// Movie is a catalogued movie row.
type Movie struct {
	ID         int64    `json:"id"`
	DriveLabel *string  `json:"drive_label,omitempty"`
	Path       *string  `json:"path,omitempty"`
	Title      *string  `json:"title,omitempty"`
	Year       *int     `json:"year,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Quality    *string  `json:"quality,omitempty"`
	AudioLangs *string  `json:"audio_langs,omitempty"`
	SubLangs   *string  `json:"sub_langs,omitempty"`
	DurationS  *int     `json:"duration_s,omitempty"`
	UpdatedUTC *string  `json:"updated_utc,omitempty"`
}

// Series is a catalogued TV series.
type Series struct {
	ID         int64   `json:"id"`
	Title      *string `json:"title,omitempty"`
	Year       *int    `json:"year,omitempty"`
	UpdatedUTC *string `json:"updated_utc,omitempty"`
	Episodes   int     `json:"episodes"`
}

// Season summarises one season of a series.
type Season struct {
	SeriesID int64 `json:"series_id"`
	Season   int   `json:"season"`
	Episodes int   `json:"episodes"`
}

// Episode is one TV episode row.
type Episode struct {
	ID         int64   `json:"id"`
	SeriesID   int64   `json:"series_id"`
	Season     *int    `json:"season,omitempty"`
	Episode    *int    `json:"episode,omitempty"`
	DriveLabel *string `json:"drive_label,omitempty"`
	Path       *string `json:"path,omitempty"`
	Title      *string `json:"title,omitempty"`
	UpdatedUTC *string `json:"updated_utc,omitempty"`
}

// Item is the detail view reached through an opaque kind-prefixed id.
type Item struct {
	ID      string   `json:"id"`
	Kind    string   `json:"kind"`
	Movie   *Movie   `json:"movie,omitempty"`
	Series  *Series  `json:"series,omitempty"`
	Episode *Episode `json:"episode,omitempty"`
}

// MusicRow is a minimal music track row from a shard.
type MusicRow struct {
	Path        string  `json:"path"`
	Artist      *string `json:"artist,omitempty"`
	Album       *string `json:"album,omitempty"`
	Title       *string `json:"title,omitempty"`
	DurationS   *int    `json:"duration_s,omitempty"`
	NeedsReview bool    `json:"needs_review"`
	DriveLabel  string  `json:"drive_label"`
}

// TextPreview is a textlite or docs preview row.
type TextPreview struct {
	Path       string  `json:"path"`
	Preview    *string `json:"preview,omitempty"`
	Pages      *int    `json:"pages,omitempty"`
	DriveLabel string  `json:"drive_label"`
}

// TextVerifyRow is a verification result for an extracted text.
type TextVerifyRow struct {
	Path       string   `json:"path"`
	Status     *string  `json:"status,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	DriveLabel string   `json:"drive_label"`
}

// SearchHit is one semantic/lexical search result.
type SearchHit struct {
	DocID string  `json:"doc_id"`
	Title string  `json:"title,omitempty"`
	Text  string  `json:"text,omitempty"`
	Score float64 `json:"score"`
	Mode  string  `json:"mode"`
}
