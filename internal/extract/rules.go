package extract

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

var (
	titleTagRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	h1Re       = regexp.MustCompile(`(?is)<h1[^>]*>(.*?)</h1>`)
	metaTagRe  = regexp.MustCompile(`(?is)<meta\b[^>]*>`)
	paraRe     = regexp.MustCompile(`(?is)<p[^>]*>(.*?)</p>`)
	tagRe      = regexp.MustCompile(`(?s)<[^>]*>`)

	// Anchored on a preceding delimiter, not \b, so data- variants of an
	// attribute never satisfy the plain name.
	nameAttrRe     = regexp.MustCompile(`(?i)(?:^|[\s"'<])name\s*=\s*(?:"([^"]*)"|'([^']*)')`)
	propertyAttrRe = regexp.MustCompile(`(?i)(?:^|[\s"'<])property\s*=\s*(?:"([^"]*)"|'([^']*)')`)
	contentAttrRe  = regexp.MustCompile(`(?i)(?:^|[\s"'<])content\s*=\s*(?:"([^"]*)"|'([^']*)')`)
)

// titleRules: document title first, first h1 as fallback.
var titleRules = []rule{
	{name: "title_tag", fn: func(body string) (string, bool) {
		m := titleTagRe.FindStringSubmatch(body)
		if m == nil {
			return "", false
		}
		text := normalizeText(m[1])
		return text, text != ""
	}},
	{name: "first_h1", fn: func(body string) (string, bool) {
		m := h1Re.FindStringSubmatch(body)
		if m == nil {
			return "", false
		}
		text := normalizeText(m[1])
		return text, text != ""
	}},
}

// descriptionRules: meta description, then the first paragraph long enough
// to not be boilerplate.
func (x *Extractor) descriptionRules() []rule {
	return []rule{
		{name: "meta_description", fn: func(body string) (string, bool) {
			for _, tag := range metaTagRe.FindAllString(body, -1) {
				if !strings.EqualFold(attr(nameAttrRe, tag), "description") {
					continue
				}
				text := normalizeText(attr(contentAttrRe, tag))
				if text != "" {
					return text, true
				}
			}
			return "", false
		}},
		{name: "first_long_paragraph", fn: func(body string) (string, bool) {
			for _, m := range paraRe.FindAllStringSubmatch(body, -1) {
				text := normalizeText(m[1])
				if len(text) >= x.cfg.MinDescriptionLength {
					return text, true
				}
			}
			return "", false
		}},
	}
}

// Price patterns in precedence order. Amounts appear both as "450 000 kr"
// and "kr 450 000" in the wild; both orders are scanned for kr and SEK
// before falling back to a price-labeled token.
var priceRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\d[\d\s\x{00a0}]*)\s*kr\b`),
	regexp.MustCompile(`(?i)\bkr\.?\s*(\d[\d\s\x{00a0}]*\d|\d)`),
	regexp.MustCompile(`(?i)(\d[\d\s\x{00a0}]*)\s*SEK\b`),
	regexp.MustCompile(`(?i)\bSEK\s*(\d[\d\s\x{00a0}]*\d|\d)`),
	regexp.MustCompile(`(?i)"?price"?\s*[:=]\s*"?(\d[\d\s\x{00a0}]*\d|\d)`),
}

var nonDigitRe = regexp.MustCompile(`\D`)

// firstPrice scans the body with each price pattern in order and parses the
// first hit as an integer amount. No pattern match is not an error.
func firstPrice(body string) (int64, bool) {
	for _, re := range priceRes {
		m := re.FindStringSubmatch(body)
		if m == nil {
			continue
		}
		digits := nonDigitRe.ReplaceAllString(m[1], "")
		if digits == "" || len(digits) > 12 {
			continue
		}
		amount, err := strconv.ParseInt(digits, 10, 64)
		if err != nil {
			continue
		}
		return amount, true
	}
	return 0, false
}

func stripTags(s string) string {
	return html.UnescapeString(tagRe.ReplaceAllString(s, " "))
}

func attr(re *regexp.Regexp, tag string) string {
	m := re.FindStringSubmatch(tag)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}
