// Package extract derives structured inventory fields from raw page markup.
//
// Target sites are arbitrary and uncontrolled, so extraction deliberately
// scans markup with bounded regular expressions instead of building a DOM.
// Every field is an ordered list of named rules evaluated in precedence
// order; the first rule that produces a value wins. Extraction never fails:
// a field with no matching rule is simply absent.
package extract

import (
	"strings"

	"github.com/fordonad/inventory-ingest/internal/ingest"
)

// Config holds the extraction tuning constants. They are configuration
// because the thresholds vary by market and site population.
type Config struct {
	// MinDescriptionLength filters short boilerplate paragraphs.
	MinDescriptionLength int
	// MaxAttributeKeyLength bounds attribute keys so free text is not
	// mistaken for a label.
	MaxAttributeKeyLength int
	// DefaultCurrency is assumed when a price is found; target-market
	// pages carry no other currency signal.
	DefaultCurrency string
}

// DefaultConfig returns extraction defaults for the Swedish market.
func DefaultConfig() Config {
	return Config{
		MinDescriptionLength:  40,
		MaxAttributeKeyLength: 32,
		DefaultCurrency:       "SEK",
	}
}

// Result carries the best-effort fields extracted from one detail page.
// ImageURLs preserves discovery order; the first entry is the primary image.
type Result struct {
	Title           string            `json:"title,omitempty"`
	Description     string            `json:"description,omitempty"`
	PriceAmount     *int64            `json:"price_amount,omitempty"`
	PriceCurrency   string            `json:"price_currency,omitempty"`
	PrimaryImageURL string            `json:"primary_image_url,omitempty"`
	ImageURLs       []string          `json:"image_urls"`
	Attributes      map[string]string `json:"attributes"`
}

// Extractor applies the rule lists to fetched pages.
type Extractor struct {
	cfg Config
}

// New constructs an Extractor, filling zero config fields with defaults.
func New(cfg Config) *Extractor {
	def := DefaultConfig()
	if cfg.MinDescriptionLength <= 0 {
		cfg.MinDescriptionLength = def.MinDescriptionLength
	}
	if cfg.MaxAttributeKeyLength <= 0 {
		cfg.MaxAttributeKeyLength = def.MaxAttributeKeyLength
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = def.DefaultCurrency
	}
	return &Extractor{cfg: cfg}
}

// Extract is a pure function of the page body and final URL. It performs no
// network access and holds no state between calls.
func (x *Extractor) Extract(page ingest.Page) Result {
	body := page.Body
	result := Result{
		ImageURLs:  []string{},
		Attributes: map[string]string{},
	}

	result.Title = firstMatch(titleRules, body)
	result.Description = firstMatch(x.descriptionRules(), body)

	if amount, ok := firstPrice(body); ok {
		result.PriceAmount = &amount
		result.PriceCurrency = x.cfg.DefaultCurrency
	}

	result.ImageURLs = collectImages(body, page.FinalURL)
	if len(result.ImageURLs) > 0 {
		result.PrimaryImageURL = result.ImageURLs[0]
	}

	result.Attributes = collectAttributes(body, x.cfg.MaxAttributeKeyLength)
	return result
}

// rule is one named extraction strategy for a text field.
type rule struct {
	name string
	fn   func(body string) (string, bool)
}

func firstMatch(rules []rule, body string) string {
	for _, r := range rules {
		if value, ok := r.fn(body); ok {
			return value
		}
	}
	return ""
}

// normalizeText strips markup remnants and collapses whitespace.
func normalizeText(s string) string {
	s = stripTags(s)
	return strings.Join(strings.Fields(s), " ")
}
