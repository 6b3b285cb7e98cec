// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package dedup

import (
	"net/url"
	"sort"
	"strings"
)

// QueryMode controls how query parameters survive URL normalization.
type QueryMode string

const (
	// QueryModeStripAll drops every query parameter.
	QueryModeStripAll QueryMode = "strip_all"

	// QueryModeKeepNonTracking keeps non-tracking parameters, sorted by key.
	QueryModeKeepNonTracking QueryMode = "keep_non_tracking"
)

// trackingParams are dropped in keep_non_tracking mode, alongside any
// parameter with a utm_ prefix.
var trackingParams = map[string]struct{}{
	"gclid":  {},
	"fbclid": {},
	"mc_cid": {},
	"mc_eid": {},
	"ref":    {},
	"igshid": {},
}

// URLNormalizer canonicalizes URLs for exact-match deduplication.
// Normalization is idempotent: Normalize(Normalize(u)) == Normalize(u).
type URLNormalizer struct {
	queryMode QueryMode
}

// NewURLNormalizer creates a normalizer with the given query handling mode.
func NewURLNormalizer(mode QueryMode) *URLNormalizer {
	if mode != QueryModeKeepNonTracking {
		mode = QueryModeStripAll
	}
	return &URLNormalizer{queryMode: mode}
}

// Normalize canonicalizes a URL: lowercase scheme and host, strip the www.
// prefix, strip default ports, drop the fragment, right-trim the path slash
// (empty path becomes "/"), and apply the query mode. Unparseable or
// scheme-less URLs normalize to "".
func (n *URLNormalizer) Normalize(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}

	scheme := strings.ToLower(parsed.Scheme)
	hostname := strings.ToLower(parsed.Hostname())
	hostname = strings.TrimPrefix(hostname, "www.")

	host := hostname
	if port := parsed.Port(); port != "" {
		isDefault := (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
		if !isDefault {
			host = hostname + ":" + port
		}
	}

	path := strings.TrimRight(parsed.Path, "/")
	if path == "" {
		path = "/"
	}

	normalized := url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     path,
		RawQuery: n.normalizeQuery(parsed.Query()),
	}
	return normalized.String()
}

func (n *URLNormalizer) normalizeQuery(values url.Values) string {
	if n.queryMode == QueryModeStripAll || len(values) == 0 {
		return ""
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		if isTrackingParam(key) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	kept := url.Values{}
	for _, key := range keys {
		for _, v := range values[key] {
			kept.Add(key, v)
		}
	}
	return kept.Encode()
}

func isTrackingParam(key string) bool {
	lower := strings.ToLower(key)
	if strings.HasPrefix(lower, "utm_") {
		return true
	}
	_, tracked := trackingParams[lower]
	return tracked
}
