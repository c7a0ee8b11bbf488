package models

import "github.com/google/uuid"

// TagKey is a globally deduplicated tag key identity. Key strings are
// shared across all projects and events; rows are created lazily on first
// use and never mutated.
type TagKey struct {
	ID  int64  `db:"id"  json:"id"`
	Key string `db:"key" json:"key"`
}

// EventTag associates a tag value with an event under a shared key.
type EventTag struct {
	EventID  uuid.UUID `db:"event_id"   json:"event_id"`
	TagKeyID int64     `db:"tag_key_id" json:"tag_key_id"`
	Value    string    `db:"value"      json:"value"`
}

// TagPair is an unresolved (key, value) produced by tag extraction, before
// the key string is resolved to a TagKey identity.
type TagPair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
