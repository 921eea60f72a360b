// Package normalize converts raw relay events into canonical activity
// records. It is a pure transform: malformed events are dropped, never
// errored on.
package normalize

import (
	"github.com/mkarlsen/pacerelay/internal/models"
	"github.com/mkarlsen/pacerelay/internal/relay"
)

// Normalize converts one raw event. The second return is false when the
// event lacks a usable id or author and must be excluded. The output always
// has a non-nil Tags slice; CreatedAt of 0 means unknown and is kept as 0.
func Normalize(raw relay.RawEvent) (models.ActivityRecord, bool) {
	if raw.ID == "" || raw.PubKey == "" {
		return models.ActivityRecord{}, false
	}

	tags := raw.Tags
	if tags == nil {
		tags = [][]string{}
	}

	createdAt := raw.CreatedAt
	if createdAt < 0 {
		createdAt = 0
	}

	return models.ActivityRecord{
		ID:        raw.ID,
		AuthorID:  raw.PubKey,
		Kind:      raw.Kind,
		CreatedAt: createdAt,
		Tags:      tags,
		Content:   raw.Content,
	}, true
}

// All normalizes a batch, dropping events that fail normalization.
func All(raws []relay.RawEvent) []models.ActivityRecord {
	records := make([]models.ActivityRecord, 0, len(raws))
	for _, raw := range raws {
		if rec, ok := Normalize(raw); ok {
			records = append(records, rec)
		}
	}
	return records
}
