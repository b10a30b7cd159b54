package extract

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	imgTagRe = regexp.MustCompile(`(?is)<img\b[^>]*>`)

	// Attribute names are anchored on a preceding delimiter rather than \b:
	// "-" is a non-word character, so \bsrc would also match inside data-src.
	srcAttrRe     = regexp.MustCompile(`(?i)(?:^|[\s"'<])src\s*=\s*(?:"([^"]*)"|'([^']*)')`)
	dataSrcAttrRe = regexp.MustCompile(`(?i)(?:^|[\s"'<])data-src\s*=\s*(?:"([^"]*)"|'([^']*)')`)
	srcsetAttrRe  = regexp.MustCompile(`(?i)(?:^|[\s"'<])srcset\s*=\s*(?:"([^"]*)"|'([^']*)')`)

	jsonImagesRe = regexp.MustCompile(`(?is)"images"\s*:\s*\[(.*?)\]`)
	jsonImageRe  = regexp.MustCompile(`(?i)"image"\s*:\s*"(https?://[^"\\]+)"`)
	quotedPathRe = regexp.MustCompile(`"(https?://[^"\\]+|/[^"\\]*)"`)
)

// collectImages gathers candidate image URLs in precedence order with
// duplicate suppression by resolved absolute URL. The first occurrence of a
// URL keeps its position; og:image, when present, is always first.
func collectImages(body, finalURL string) []string {
	set := newImageSet(finalURL)

	for _, tag := range metaTagRe.FindAllString(body, -1) {
		if strings.EqualFold(attr(propertyAttrRe, tag), "og:image") {
			set.add(attr(contentAttrRe, tag))
		}
	}

	imgTags := imgTagRe.FindAllString(body, -1)
	for _, tag := range imgTags {
		set.add(attr(srcAttrRe, tag))
	}
	for _, tag := range imgTags {
		set.add(attr(dataSrcAttrRe, tag))
	}
	for _, tag := range imgTags {
		set.add(firstSrcsetURL(attr(srcsetAttrRe, tag)))
	}
	for _, tag := range imgTags {
		set.add(decodeProxyURL(attr(srcAttrRe, tag)))
	}

	for _, m := range jsonImagesRe.FindAllStringSubmatch(body, -1) {
		for _, q := range quotedPathRe.FindAllStringSubmatch(m[1], -1) {
			set.add(q[1])
		}
	}
	for _, m := range jsonImageRe.FindAllStringSubmatch(body, -1) {
		set.add(m[1])
	}

	return set.urls
}

// firstSrcsetURL takes the first candidate of a srcset declaration,
// dropping the width/density descriptor.
func firstSrcsetURL(srcset string) string {
	first, _, _ := strings.Cut(srcset, ",")
	fields := strings.Fields(first)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// decodeProxyURL unwraps framework image-proxy URLs that carry the origin
// image in a query parameter (e.g. /_next/image?url=...).
func decodeProxyURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	q := u.Query()
	for _, param := range []string{"url", "src", "image"} {
		if v := q.Get(param); v != "" && (strings.HasPrefix(v, "http") || strings.HasPrefix(v, "/")) {
			return v
		}
	}
	return ""
}

// imageSet is an insertion-ordered set keyed by resolved absolute URL.
type imageSet struct {
	base *url.URL
	urls []string
	seen map[string]struct{}
}

func newImageSet(finalURL string) *imageSet {
	base, err := url.Parse(finalURL)
	if err != nil {
		base = nil
	}
	return &imageSet{base: base, urls: []string{}, seen: map[string]struct{}{}}
}

func (s *imageSet) add(raw string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return
	}
	resolved := ref
	if s.base != nil {
		resolved = s.base.ResolveReference(ref)
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return
	}
	key := resolved.String()
	if _, ok := s.seen[key]; ok {
		return
	}
	s.seen[key] = struct{}{}
	s.urls = append(s.urls, key)
}
