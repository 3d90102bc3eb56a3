// Package storage holds what the record stores share: the document fingerprint and the in-process
// filtering used by stores that cannot push a filter down.
package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/JakeFAU/scholar-crawler/internal/researcher"
)

// Fingerprint hashes the JSON document of rec with the per-capture fields zeroed, so two captures of
// the same profile on the same day hash equal when their content is equal.
func Fingerprint(h researcher.Hasher, rec researcher.Record) (string, error) {
	rec.CapturedAt = time.Time{}
	rec.ExecutionSeconds = 0
	doc, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	return h.Hash(doc)
}

// Matches reports whether rec passes filter. Limit is not applied here.
func Matches(rec researcher.Record, filter researcher.Filter) bool {
	if filter.Retained != nil && rec.Retained != *filter.Retained {
		return false
	}
	if filter.Source != "" && rec.Source != filter.Source {
		return false
	}
	return true
}

// Select filters records, orders them by capture time descending and applies the limit.
func Select(records []researcher.Record, filter researcher.Filter) []researcher.Record {
	out := make([]researcher.Record, 0, len(records))
	for _, rec := range records {
		if Matches(rec, filter) {
			out = append(out, rec.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CapturedAt.After(out[j].CapturedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}
