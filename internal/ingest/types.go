// Package ingest defines core types shared across the ingestion subsystems.
package ingest

import (
	"time"
)

// RunStatus represents the lifecycle state of an ingestion run.
type RunStatus string

// Run status values persisted in the run store. The normal path is
// queued -> running -> {success, failed}; a failed run re-enters running
// when its job is redelivered, success is final.
const (
	RunStatusQueued  RunStatus = "queued"
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// Terminal reports whether a status can no longer change.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailed
}

// CanTransition reports whether moving from s to next is allowed. Success is
// final. Any other status may move to running again when a queue job is
// redelivered, or on to a terminal status. Nothing returns to queued.
func (s RunStatus) CanTransition(next RunStatus) bool {
	if s == RunStatusSuccess {
		return false
	}
	switch next {
	case RunStatusRunning, RunStatusSuccess, RunStatusFailed:
		return true
	default:
		return false
	}
}

// IDMode selects how a stable item id is derived from a detail URL.
type IDMode string

// Supported id derivation modes.
const (
	IDModeLastSegment IDMode = "last_segment"
	IDModeQueryParam  IDMode = "query_param"
)

// IDRule configures item id derivation for a site profile.
type IDRule struct {
	Mode IDMode `json:"mode" mapstructure:"mode"`
	// Param names the query parameter consulted in query_param mode.
	Param string `json:"param,omitempty" mapstructure:"param"`
}

// Limits bounds a single discovery pass.
type Limits struct {
	MaxPages    int           `json:"max_pages" mapstructure:"max_pages"`
	MaxItems    int           `json:"max_items" mapstructure:"max_items"`
	MaxDuration time.Duration `json:"max_duration" mapstructure:"max_duration"`
}

// SiteProfile describes how to discover inventory on one customer site.
// It is immutable for the duration of a run.
type SiteProfile struct {
	SourceID       string   `json:"source_id" mapstructure:"source_id"`
	BaseURL        string   `json:"base_url" mapstructure:"base_url"`
	SeedURLs       []string `json:"seed_urls" mapstructure:"seed_urls"`
	IDFromURL      IDRule   `json:"id_from_url" mapstructure:"id_from_url"`
	DetailPatterns []string `json:"detail_url_patterns" mapstructure:"detail_url_patterns"`
	Limits         Limits   `json:"limits" mapstructure:"limits"`
}

// Seeds returns the ordered seed list, falling back to the base URL.
func (p SiteProfile) Seeds() []string {
	if len(p.SeedURLs) > 0 {
		return p.SeedURLs
	}
	if p.BaseURL != "" {
		return []string{p.BaseURL}
	}
	return nil
}

// DiscoveredItem pairs a stable source item id with its detail URL.
type DiscoveredItem struct {
	SourceItemID string `json:"source_item_id"`
	URL          string `json:"url"`
}

// FetchTrace carries best-effort diagnostics for a single fetch.
type FetchTrace struct {
	RequestedURL string `json:"requested_url"`
	FinalURL     string `json:"final_url,omitempty"`
	StatusCode   int    `json:"status_code,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
	Error        string `json:"error,omitempty"`
}

// Page is the result of fetching a single URL. A fetch-level error is
// reported through the Fetcher return value, not through Page fields.
type Page struct {
	StatusCode int
	Body       string
	FinalURL   string
	Trace      *FetchTrace
}

// Item is one extracted inventory record, scoped to a customer and run.
type Item struct {
	CustomerID      string            `json:"customer_id"`
	SourceID        string            `json:"source_id"`
	RunID           string            `json:"run_id"`
	SourceItemID    string            `json:"source_item_id"`
	URL             string            `json:"url"`
	Title           string            `json:"title,omitempty"`
	Description     string            `json:"description,omitempty"`
	PriceAmount     *int64            `json:"price_amount,omitempty"`
	PriceCurrency   string            `json:"price_currency,omitempty"`
	PrimaryImageURL string            `json:"primary_image_url,omitempty"`
	ImageURLs       []string          `json:"image_urls,omitempty"`
	Attributes      map[string]string `json:"attributes,omitempty"`
	FetchedAt       time.Time         `json:"fetched_at"`
}

// Run represents one unit of ingestion work for a (customer, source) pair.
type Run struct {
	ID           string     `json:"id"`
	CustomerID   string     `json:"customer_id"`
	SourceID     string     `json:"source_id"`
	Trigger      string     `json:"trigger"`
	Status       RunStatus  `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ErrorCode    string     `json:"error_code,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// Job is the queue payload plus correlation context for one run.
type Job struct {
	CustomerID string `json:"customer_id"`
	SourceID   string `json:"source_id"`
	RunID      string `json:"run_id"`
	Trigger    string `json:"trigger"`
	Attempt    int    `json:"attempt"`
}
