package hydrate

import "time"

// Event kinds projected into typed records. Everything else lands in the
// generic table.
const (
	KindTextNote        = 1
	KindComment         = 1111
	KindFileMetadata    = 1063
	KindZapReceipt      = 9735
	KindHighlight       = 9802
	KindLongFormArticle = 30023
)

// Record is any projected domain row. The event id primary key enforces
// global deduplication: exactly one row per distinct event id.
type Record interface {
	EventKey() string
}

// Article is a projected long-form article (kind 30023).
type Article struct {
	EventID            string    `gorm:"column:event_id;primaryKey;size:64;not null"`
	PubKey             string    `gorm:"column:pubkey;size:64;not null;index"`
	CreatedAtSeconds   int64     `gorm:"column:created_at_s;not null;index"`
	Slug               string    `gorm:"column:slug;size:190;index"`
	Title              string    `gorm:"column:title;size:512"`
	Summary            string    `gorm:"column:summary;type:text"`
	ImageURL           string    `gorm:"column:image_url;size:512"`
	PublishedAtSeconds int64     `gorm:"column:published_at_s"`
	Content            string    `gorm:"column:content;type:text;not null"`
	SourceRelay        string    `gorm:"column:source_relay;size:512"`
	FirstSeenAt        time.Time `gorm:"column:first_seen_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Article) TableName() string {
	return "articles"
}

// EventKey returns the deduplicating event id.
func (a Article) EventKey() string {
	return a.EventID
}

// Comment is a projected threaded comment (kind 1111) or plain text note
// reply (kind 1). Root references come from uppercase tag conventions,
// parent references from their lowercase pairs.
type Comment struct {
	EventID          string    `gorm:"column:event_id;primaryKey;size:64;not null"`
	PubKey           string    `gorm:"column:pubkey;size:64;not null;index"`
	CreatedAtSeconds int64     `gorm:"column:created_at_s;not null;index"`
	RootEventID      string    `gorm:"column:root_event_id;size:64;index"`
	RootKind         int       `gorm:"column:root_kind"`
	RootPubKey       string    `gorm:"column:root_pubkey;size:64"`
	ParentEventID    string    `gorm:"column:parent_event_id;size:64;index"`
	ParentKind       int       `gorm:"column:parent_kind"`
	ParentPubKey     string    `gorm:"column:parent_pubkey;size:64"`
	Content          string    `gorm:"column:content;type:text;not null"`
	SourceRelay      string    `gorm:"column:source_relay;size:512"`
	FirstSeenAt      time.Time `gorm:"column:first_seen_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "comments"
}

// EventKey returns the deduplicating event id.
func (c Comment) EventKey() string {
	return c.EventID
}

// Highlight is a projected text highlight (kind 9802) referencing the
// highlighted source by event id, address, or external URL.
type Highlight struct {
	EventID          string    `gorm:"column:event_id;primaryKey;size:64;not null"`
	PubKey           string    `gorm:"column:pubkey;size:64;not null;index"`
	CreatedAtSeconds int64     `gorm:"column:created_at_s;not null;index"`
	SourceEventID    string    `gorm:"column:source_event_id;size:64;index"`
	SourceAddress    string    `gorm:"column:source_address;size:512"`
	SourceURL        string    `gorm:"column:source_url;size:512"`
	Context          string    `gorm:"column:context;type:text"`
	Content          string    `gorm:"column:content;type:text;not null"`
	SourceRelay      string    `gorm:"column:source_relay;size:512"`
	FirstSeenAt      time.Time `gorm:"column:first_seen_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Highlight) TableName() string {
	return "highlights"
}

// EventKey returns the deduplicating event id.
func (h Highlight) EventKey() string {
	return h.EventID
}

// MediaItem is projected file metadata (kind 1063).
type MediaItem struct {
	EventID          string    `gorm:"column:event_id;primaryKey;size:64;not null"`
	PubKey           string    `gorm:"column:pubkey;size:64;not null;index"`
	CreatedAtSeconds int64     `gorm:"column:created_at_s;not null;index"`
	URL              string    `gorm:"column:url;size:1024"`
	MimeType         string    `gorm:"column:mime_type;size:190;index"`
	SHA256           string    `gorm:"column:sha256;size:64"`
	Dimensions       string    `gorm:"column:dimensions;size:64"`
	Alt              string    `gorm:"column:alt;type:text"`
	Description      string    `gorm:"column:description;type:text"`
	SourceRelay      string    `gorm:"column:source_relay;size:512"`
	FirstSeenAt      time.Time `gorm:"column:first_seen_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (MediaItem) TableName() string {
	return "media_items"
}

// EventKey returns the deduplicating event id.
func (m MediaItem) EventKey() string {
	return m.EventID
}

// GenericEvent is the catch-all projection for kinds without a dedicated
// table, zap receipts included. Tags are kept verbatim as JSON so
// downstream consumers can run their own extraction.
type GenericEvent struct {
	EventID          string    `gorm:"column:event_id;primaryKey;size:64;not null"`
	PubKey           string    `gorm:"column:pubkey;size:64;not null;index"`
	Kind             int       `gorm:"column:kind;not null;index"`
	CreatedAtSeconds int64     `gorm:"column:created_at_s;not null;index"`
	TagsJSON         string    `gorm:"column:tags_json;type:text;not null"`
	Content          string    `gorm:"column:content;type:text;not null"`
	SourceRelay      string    `gorm:"column:source_relay;size:512"`
	FirstSeenAt      time.Time `gorm:"column:first_seen_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (GenericEvent) TableName() string {
	return "generic_events"
}

// EventKey returns the deduplicating event id.
func (g GenericEvent) EventKey() string {
	return g.EventID
}
