package extract

import (
	"regexp"
	"strings"
)

var (
	dtDdRe = regexp.MustCompile(`(?is)<dt[^>]*>(.*?)</dt>\s*<dd[^>]*>(.*?)</dd>`)
	// <strong>Key:</strong> value style labels; the colon may sit inside or
	// just after the closing tag.
	labelRe = regexp.MustCompile(`(?is)<(strong|b|span)[^>]*>([^<]{1,64}?)\s*:?\s*</(?:strong|b|span)>\s*:?\s*([^<\r\n]+)`)
)

// collectAttributes scans for definition-list pairs and bold-label patterns.
// This is intentionally lossy: it recovers a useful subset of structured
// data, not all of it. Keys longer than maxKeyLen are treated as prose.
func collectAttributes(body string, maxKeyLen int) map[string]string {
	attrs := map[string]string{}

	for _, m := range dtDdRe.FindAllStringSubmatch(body, -1) {
		putAttribute(attrs, m[1], m[2], maxKeyLen)
	}
	for _, m := range labelRe.FindAllStringSubmatch(body, -1) {
		putAttribute(attrs, m[2], m[3], maxKeyLen)
	}
	return attrs
}

// putAttribute records key -> value when both sides survive normalization
// and the key is short enough to plausibly be a label. First write wins.
func putAttribute(attrs map[string]string, rawKey, rawValue string, maxKeyLen int) {
	key := strings.TrimSuffix(normalizeText(rawKey), ":")
	key = strings.TrimSpace(key)
	value := normalizeText(rawValue)
	if key == "" || value == "" {
		return
	}
	if len(key) > maxKeyLen {
		return
	}
	if _, ok := attrs[key]; ok {
		return
	}
	attrs[key] = value
}
