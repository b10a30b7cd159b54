// Package discover implements bounded, best-effort discovery of detail URLs
// on a customer inventory site.
package discover

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fordonad/inventory-ingest/internal/hash/sha256"
	"github.com/fordonad/inventory-ingest/internal/ingest"
	"github.com/fordonad/inventory-ingest/internal/metrics"
)

// Config carries the tuning knobs for a discovery pass. The token lists are
// deliberately configuration, not constants; they vary by market.
type Config struct {
	DetailPathTokens    []string
	LoadMoreKeywords    []string
	APIPathTokens       []string
	MaxSecondaryFetches int
	FetchTimeout        time.Duration

	// Fallback limits applied when a profile leaves them unset.
	DefaultMaxPages    int
	DefaultMaxItems    int
	DefaultMaxDuration time.Duration
}

// DefaultConfig returns the tuning defaults for the Swedish vehicle market.
func DefaultConfig() Config {
	return Config{
		DetailPathTokens:    []string{"/detail", "/item", "/product", "/objekt", "/fordon", "/annons"},
		LoadMoreKeywords:    []string{"load more", "show more", "visa fler", "ladda fler"},
		APIPathTokens:       []string{"json", "ajax", "/api/"},
		MaxSecondaryFetches: 3,
		FetchTimeout:        10 * time.Second,
		DefaultMaxPages:     25,
		DefaultMaxItems:     200,
		DefaultMaxDuration:  60 * time.Second,
	}
}

// Engine walks a site from its seeds and collects detail URLs.
type Engine struct {
	fetcher ingest.Fetcher
	clock   ingest.Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs an Engine.
func New(fetcher ingest.Fetcher, clock ingest.Clock, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxSecondaryFetches <= 0 {
		cfg.MaxSecondaryFetches = DefaultConfig().MaxSecondaryFetches
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultConfig().FetchTimeout
	}
	metrics.Init()
	return &Engine{
		fetcher: fetcher,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
}

var (
	anchorTagRe = regexp.MustCompile(`(?is)<a\b[^>]*>`)

	// Attribute names are anchored on a preceding delimiter rather than \b:
	// "-" is a non-word character, so \bhref would also match inside data-href.
	hrefAttrRe  = regexp.MustCompile(`(?i)(?:^|[\s"'<])href\s*=\s*(?:"([^"]*)"|'([^']*)')`)
	relAttrRe   = regexp.MustCompile(`(?i)(?:^|[\s"'<])rel\s*=\s*(?:"([^"]*)"|'([^']*)')`)
	classAttrRe = regexp.MustCompile(`(?i)(?:^|[\s"'<])class\s*=\s*(?:"([^"]*)"|'([^']*)')`)
	ariaAttrRe  = regexp.MustCompile(`(?i)(?:^|[\s"'<])aria-label\s*=\s*(?:"([^"]*)"|'([^']*)')`)
	pagePathRe  = regexp.MustCompile(`(?i)/(?:page|sida)/\d+`)
)

// pass is the arena for one discovery invocation. It is constructed at call
// start and discarded at return, so concurrent runs share nothing.
type pass struct {
	engine    *Engine
	patterns  []*regexp.Regexp
	heuristic bool
	hosts     map[string]struct{}
	idRule    ingest.IDRule
	maxItems  int

	visited map[string]struct{}
	seen    map[string]string
	byURL   map[string]struct{}
	items   []ingest.DiscoveredItem
	queue   []string
	pages   int
}

// Discover runs one bounded discovery pass. Partial results on budget
// exhaustion are valid; individual page failures never abort the pass.
func (e *Engine) Discover(ctx context.Context, profile ingest.SiteProfile) []ingest.DiscoveredItem {
	seeds := profile.Seeds()
	if len(seeds) == 0 {
		return nil
	}

	maxPages := profile.Limits.MaxPages
	if maxPages <= 0 {
		maxPages = e.cfg.DefaultMaxPages
	}
	maxItems := profile.Limits.MaxItems
	if maxItems <= 0 {
		maxItems = e.cfg.DefaultMaxItems
	}
	maxDuration := profile.Limits.MaxDuration
	if maxDuration <= 0 {
		maxDuration = e.cfg.DefaultMaxDuration
	}
	deadline := e.clock.Now().Add(maxDuration)

	p := &pass{
		engine:   e,
		patterns: e.compilePatterns(profile.DetailPatterns),
		hosts:    seedHosts(seeds),
		idRule:   profile.IDFromURL,
		maxItems: maxItems,
		visited:  make(map[string]struct{}),
		seen:     make(map[string]string),
		byURL:    make(map[string]struct{}),
		queue:    append([]string(nil), seeds...),
	}
	p.heuristic = useHeuristic(p.patterns)

	for len(p.queue) > 0 && p.pages < maxPages && len(p.items) < maxItems {
		if ctx.Err() != nil || !e.clock.Now().Before(deadline) {
			break
		}
		pageURL := p.queue[0]
		p.queue = p.queue[1:]

		norm, err := NormalizeURL(pageURL)
		if err != nil {
			continue
		}
		if _, ok := p.visited[norm]; ok {
			continue
		}
		p.visited[norm] = struct{}{}

		page, ok := p.fetchPage(ctx, pageURL)
		if !ok {
			continue
		}
		base := p.pageBase(pageURL, page)

		p.harvestAnchors(base, page.Body)
		if next, found := p.findNextPage(base, page.Body); found {
			p.queue = append(p.queue, next)
		}
		p.fetchSecondary(ctx, base, page.Body, maxPages, deadline)
	}
	return p.items
}

func (e *Engine) compilePatterns(raw []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(raw))
	for _, expr := range raw {
		if strings.TrimSpace(expr) == "" {
			continue
		}
		if isCatchAll(expr) {
			// A pattern matching every URL carries no selection signal and
			// would shadow the heuristic, so it is treated as unconfigured.
			e.logger.Warn("ignoring catch-all detail url pattern",
				zap.String("pattern", expr))
			continue
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			// Malformed per-pattern configuration is skipped, never fatal.
			e.logger.Warn("ignoring invalid detail url pattern",
				zap.String("pattern", expr), zap.Error(err))
			continue
		}
		patterns = append(patterns, re)
	}
	return patterns
}

// useHeuristic enables the "looks like a detail page" fallback when no
// usable pattern survived compilation. Catch-alls and malformed patterns
// are dropped there, so an all-catch-all profile falls back too.
func useHeuristic(patterns []*regexp.Regexp) bool {
	return len(patterns) == 0
}

func isCatchAll(expr string) bool {
	switch strings.Trim(strings.TrimSpace(expr), "^$") {
	case ".*", ".+", "(.*)", "(.+)":
		return true
	default:
		return false
	}
}

func (p *pass) fetchPage(ctx context.Context, rawURL string) (ingest.Page, bool) {
	p.pages++
	// Fetch latency is measured on the wall clock; the injected clock only
	// paces the pass deadline.
	start := time.Now()
	page, err := p.engine.fetcher.Fetch(ctx, rawURL, p.engine.cfg.FetchTimeout)
	if err != nil {
		metrics.ObserveFetch(rawURL, "error", time.Since(start))
		p.engine.logger.Debug("discovery page fetch failed",
			zap.String("url", rawURL), zap.Error(err))
		return ingest.Page{}, false
	}
	metrics.ObserveFetch(rawURL, fmt.Sprintf("%d", page.StatusCode), time.Since(start))
	if page.StatusCode != 200 || strings.TrimSpace(page.Body) == "" {
		p.engine.logger.Debug("discovery page skipped",
			zap.String("url", rawURL), zap.Int("status", page.StatusCode))
		return ingest.Page{}, false
	}
	return page, true
}

func (p *pass) pageBase(requested string, page ingest.Page) *url.URL {
	base := page.FinalURL
	if base == "" {
		base = requested
	}
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		u, err = url.Parse(requested)
		if err != nil {
			return &url.URL{}
		}
	}
	return u
}

func (p *pass) harvestAnchors(base *url.URL, body string) {
	for _, tag := range anchorTagRe.FindAllString(body, -1) {
		if len(p.items) >= p.maxItems {
			return
		}
		href := attrValue(hrefAttrRe, tag)
		resolved, ok := resolveLink(base, href)
		if !ok {
			continue
		}
		if _, ok := p.hosts[hostKey(resolved.Host)]; !ok {
			continue
		}
		if !p.acceptDetail(resolved) {
			continue
		}
		p.record(resolved)
	}
}

func (p *pass) acceptDetail(u *url.URL) bool {
	full := u.String()
	for _, re := range p.patterns {
		if re.MatchString(full) {
			return true
		}
	}
	if !p.heuristic {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, token := range p.engine.cfg.DetailPathTokens {
		if strings.Contains(path, token) {
			return true
		}
	}
	return false
}

// record dedupes by URL, derives the stable item id, and resolves id
// collisions by suffixing. Collisions are never silently dropped.
func (p *pass) record(u *url.URL) {
	norm, err := NormalizeURL(u.String())
	if err != nil {
		return
	}
	if _, ok := p.byURL[norm]; ok {
		return
	}
	id := deriveID(u, p.idRule)
	if prior, ok := p.seen[id]; ok && prior != norm {
		for n := 2; ; n++ {
			candidate := fmt.Sprintf("%s-%d", id, n)
			if _, taken := p.seen[candidate]; !taken {
				id = candidate
				break
			}
		}
	} else if ok {
		return
	}
	p.seen[id] = norm
	p.byURL[norm] = struct{}{}
	p.items = append(p.items, ingest.DiscoveredItem{SourceItemID: id, URL: u.String()})
}

// deriveID extracts a stable item id from a detail URL. An underivable id
// falls back to a digest of the normalized URL.
func deriveID(u *url.URL, rule ingest.IDRule) string {
	switch rule.Mode {
	case ingest.IDModeQueryParam:
		if rule.Param != "" {
			if v := u.Query().Get(rule.Param); v != "" {
				return v
			}
		}
	default:
		segments := strings.Split(strings.Trim(u.Path, "/"), "/")
		if last := segments[len(segments)-1]; last != "" {
			return last
		}
	}
	digest, err := sha256.New().Hash([]byte(u.String()))
	if err != nil || len(digest) < 12 {
		return u.String()
	}
	return digest[:12]
}

// findNextPage scans for a pagination link: rel="next", aria-label next,
// class containing "next", or page-shaped URLs.
func (p *pass) findNextPage(base *url.URL, body string) (string, bool) {
	for _, tag := range anchorTagRe.FindAllString(body, -1) {
		href := attrValue(hrefAttrRe, tag)
		resolved, ok := resolveLink(base, href)
		if !ok {
			continue
		}
		if _, ok := p.hosts[hostKey(resolved.Host)]; !ok {
			continue
		}
		if !isNextAnchor(tag) && !looksLikePagination(resolved) {
			continue
		}
		norm, err := NormalizeURL(resolved.String())
		if err != nil {
			continue
		}
		if _, seen := p.visited[norm]; seen {
			continue
		}
		return resolved.String(), true
	}
	return "", false
}

func isNextAnchor(tag string) bool {
	if strings.Contains(strings.ToLower(attrValue(relAttrRe, tag)), "next") {
		return true
	}
	if strings.Contains(strings.ToLower(attrValue(ariaAttrRe, tag)), "next") {
		return true
	}
	return strings.Contains(strings.ToLower(attrValue(classAttrRe, tag)), "next")
}

func looksLikePagination(u *url.URL) bool {
	q := u.Query()
	for _, param := range []string{"page", "p", "sida"} {
		if q.Get(param) != "" {
			return true
		}
	}
	return pagePathRe.MatchString(u.Path)
}

// fetchSecondary follows API/AJAX-shaped endpoints behind "load more" UIs.
// Their bodies are harvested with the normal acceptance rule but they are
// never treated as seeds for further pagination.
func (p *pass) fetchSecondary(ctx context.Context, base *url.URL, body string, maxPages int, deadline time.Time) {
	if !p.containsLoadMore(body) {
		return
	}
	fetched := 0
	for _, tag := range anchorTagRe.FindAllString(body, -1) {
		if fetched >= p.engine.cfg.MaxSecondaryFetches {
			return
		}
		if p.pages >= maxPages || len(p.items) >= p.maxItems {
			return
		}
		if ctx.Err() != nil || !p.engine.clock.Now().Before(deadline) {
			return
		}
		href := attrValue(hrefAttrRe, tag)
		resolved, ok := resolveLink(base, href)
		if !ok {
			continue
		}
		if _, ok := p.hosts[hostKey(resolved.Host)]; !ok {
			continue
		}
		if !p.looksLikeEndpoint(resolved) {
			continue
		}
		norm, err := NormalizeURL(resolved.String())
		if err != nil {
			continue
		}
		if _, seen := p.visited[norm]; seen {
			continue
		}
		p.visited[norm] = struct{}{}
		fetched++
		page, ok := p.fetchPage(ctx, resolved.String())
		if !ok {
			continue
		}
		p.harvestAnchors(p.pageBase(resolved.String(), page), page.Body)
	}
}

func (p *pass) containsLoadMore(body string) bool {
	lower := strings.ToLower(body)
	for _, keyword := range p.engine.cfg.LoadMoreKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

func (p *pass) looksLikeEndpoint(u *url.URL) bool {
	path := strings.ToLower(u.Path)
	for _, token := range p.engine.cfg.APIPathTokens {
		if strings.Contains(path, token) {
			return true
		}
	}
	return false
}

func attrValue(re *regexp.Regexp, tag string) string {
	m := re.FindStringSubmatch(tag)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}
