package fetcher

import (
	"bytes"
	"regexp"
)

var (
	tableTag = regexp.MustCompile(`(?i)<table[\s>]`)
	cellTag  = regexp.MustCompile(`(?i)<t[hd][\s>]`)
)

// spaIndicators mark application shells that render their content,
// tables included, from scripts.
var spaIndicators = [][]byte{
	[]byte(`<div id="root"></div>`),
	[]byte(`<div id="app"></div>`),
	[]byte(`<div id="__next"></div>`),
	[]byte(`<div id="q-app"></div>`),
	[]byte(`<app-root></app-root>`),
	[]byte(`<noscript>you need to enable javascript`),
	[]byte(`<noscript>enable javascript`),
}

// IsSufficient reports whether the served markup already holds a table
// with at least two cells, so the page can be handled without a browser.
// Application shells are never sufficient, even when they ship a table
// skeleton.
func IsSufficient(html []byte) bool {
	lower := bytes.ToLower(html)
	for _, ind := range spaIndicators {
		if bytes.Contains(lower, ind) {
			return false
		}
	}
	loc := tableTag.FindIndex(html)
	if loc == nil {
		return false
	}
	return len(cellTag.FindAllIndex(html[loc[0]:], 2)) >= 2
}
