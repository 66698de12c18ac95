// Package gorm provides GORM-based database operations for newscluster.
package gorm

import (
	"net/http"
	"strconv"
)

// Pagination defaults for cluster listings.
const (
	DefaultPerPage = 10
	MaxPerPage     = 100
)

// ParsePageParams parses the "page" and "per_page" query parameters from an HTTP request.
// Missing or invalid values fall back to page 1 and DefaultPerPage.
func ParsePageParams(r *http.Request) (page, perPage int) {
	page, perPage = 1, DefaultPerPage
	q := r.URL.Query()
	if p := q.Get("page"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed > 0 {
			page = parsed
		}
	}
	if pp := q.Get("per_page"); pp != "" {
		if parsed, err := strconv.Atoi(pp); err == nil && parsed > 0 {
			perPage = parsed
		}
	}
	return normalizePage(page, perPage)
}

// normalizePage clamps pagination to sane bounds.
func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return page, perPage
}
