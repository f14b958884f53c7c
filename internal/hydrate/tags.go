package hydrate

import (
	"strconv"

	"github.com/tidewater-labs/driftnet/internal/nostr"
)

// ParsedTag is the typed form of one wire tag. Unknown tag names fall
// through to OpaqueTag so forward-compatible events still project.
type ParsedTag interface {
	TagName() string
}

// SlugTag is the 'd' identifier of an addressable event.
type SlugTag struct {
	Slug string
}

// TitleTag is an article title.
type TitleTag struct {
	Title string
}

// SummaryTag is an article summary.
type SummaryTag struct {
	Summary string
}

// ImageTag is an article header image URL.
type ImageTag struct {
	URL string
}

// PublishedAtTag is an article's declared publication time.
type PublishedAtTag struct {
	Seconds int64
}

// EventRefTag references another event ('e' or 'E'); Root reports the
// uppercase (root) form of the tag pair convention.
type EventRefTag struct {
	EventID  string
	RelayURL string
	Marker   string
	Root     bool
}

// PubKeyRefTag references a public key ('p' or 'P').
type PubKeyRefTag struct {
	PubKey string
	Root   bool
}

// KindRefTag references an event kind ('k' or 'K').
type KindRefTag struct {
	Kind int
	Root bool
}

// AddressRefTag references an addressable event ('a').
type AddressRefTag struct {
	Address string
}

// URLRefTag references an external resource ('r').
type URLRefTag struct {
	URL string
}

// ContextTag carries the surrounding text of a highlight.
type ContextTag struct {
	Context string
}

// MediaURLTag is the 'url' tag of file metadata.
type MediaURLTag struct {
	URL string
}

// MimeTypeTag is the 'm' tag of file metadata.
type MimeTypeTag struct {
	MimeType string
}

// HashTag is the 'x' sha256 tag of file metadata.
type HashTag struct {
	SHA256 string
}

// DimensionsTag is the 'dim' tag of file metadata.
type DimensionsTag struct {
	Dimensions string
}

// AltTag is the 'alt' description tag.
type AltTag struct {
	Alt string
}

// OpaqueTag passes an unrecognized tag through untouched.
type OpaqueTag struct {
	Tag nostr.Tag
}

func (SlugTag) TagName() string        { return "d" }
func (TitleTag) TagName() string       { return "title" }
func (SummaryTag) TagName() string     { return "summary" }
func (ImageTag) TagName() string       { return "image" }
func (PublishedAtTag) TagName() string { return "published_at" }
func (t EventRefTag) TagName() string {
	if t.Root {
		return "E"
	}
	return "e"
}
func (t PubKeyRefTag) TagName() string {
	if t.Root {
		return "P"
	}
	return "p"
}
func (t KindRefTag) TagName() string {
	if t.Root {
		return "K"
	}
	return "k"
}
func (AddressRefTag) TagName() string  { return "a" }
func (URLRefTag) TagName() string      { return "r" }
func (ContextTag) TagName() string     { return "context" }
func (MediaURLTag) TagName() string    { return "url" }
func (MimeTypeTag) TagName() string    { return "m" }
func (HashTag) TagName() string        { return "x" }
func (DimensionsTag) TagName() string  { return "dim" }
func (AltTag) TagName() string         { return "alt" }
func (t OpaqueTag) TagName() string    { return t.Tag.Name() }

// ParseTag maps one wire tag to its typed form.
func ParseTag(tag nostr.Tag) ParsedTag {
	switch tag.Name() {
	case "d":
		return SlugTag{Slug: tag.Value()}
	case "title":
		return TitleTag{Title: tag.Value()}
	case "summary":
		return SummaryTag{Summary: tag.Value()}
	case "image":
		return ImageTag{URL: tag.Value()}
	case "published_at":
		seconds, err := strconv.ParseInt(tag.Value(), 10, 64)
		if err != nil {
			return OpaqueTag{Tag: tag}
		}
		return PublishedAtTag{Seconds: seconds}
	case "e", "E":
		ref := EventRefTag{EventID: tag.Value(), Root: tag.Name() == "E"}
		if len(tag) > 2 {
			ref.RelayURL = tag[2]
		}
		if len(tag) > 3 {
			ref.Marker = tag[3]
		}
		return ref
	case "p", "P":
		return PubKeyRefTag{PubKey: tag.Value(), Root: tag.Name() == "P"}
	case "k", "K":
		kind, err := strconv.Atoi(tag.Value())
		if err != nil {
			return OpaqueTag{Tag: tag}
		}
		return KindRefTag{Kind: kind, Root: tag.Name() == "K"}
	case "a":
		return AddressRefTag{Address: tag.Value()}
	case "r":
		return URLRefTag{URL: tag.Value()}
	case "context":
		return ContextTag{Context: tag.Value()}
	case "url":
		return MediaURLTag{URL: tag.Value()}
	case "m":
		return MimeTypeTag{MimeType: tag.Value()}
	case "x":
		return HashTag{SHA256: tag.Value()}
	case "dim":
		return DimensionsTag{Dimensions: tag.Value()}
	case "alt":
		return AltTag{Alt: tag.Value()}
	default:
		return OpaqueTag{Tag: tag}
	}
}

// ParseTags maps a wire tag sequence in order.
func ParseTags(tags nostr.Tags) []ParsedTag {
	parsed := make([]ParsedTag, 0, len(tags))
	for _, tag := range tags {
		parsed = append(parsed, ParseTag(tag))
	}
	return parsed
}
