package hydrate

import (
	"encoding/json"

	"github.com/tidewater-labs/driftnet/internal/nostr"
)

// mapRecord dispatches one verified event to its kind-specific mapper.
// Every mapper is a pure function from (tags, content) to typed fields.
func mapRecord(event nostr.Event, sourceRelay string) (Record, error) {
	switch event.Kind {
	case KindLongFormArticle:
		return mapArticle(event, sourceRelay), nil
	case KindComment, KindTextNote:
		return mapComment(event, sourceRelay), nil
	case KindHighlight:
		return mapHighlight(event, sourceRelay), nil
	case KindFileMetadata:
		return mapMediaItem(event, sourceRelay), nil
	default:
		return mapGenericEvent(event, sourceRelay)
	}
}

func mapArticle(event nostr.Event, sourceRelay string) Article {
	article := Article{
		EventID:          event.ID,
		PubKey:           event.PubKey,
		CreatedAtSeconds: event.CreatedAt,
		Content:          event.Content,
		SourceRelay:      sourceRelay,
	}

	for _, tag := range ParseTags(event.Tags) {
		switch typed := tag.(type) {
		case SlugTag:
			if article.Slug == "" {
				article.Slug = typed.Slug
			}
		case TitleTag:
			if article.Title == "" {
				article.Title = typed.Title
			}
		case SummaryTag:
			if article.Summary == "" {
				article.Summary = typed.Summary
			}
		case ImageTag:
			if article.ImageURL == "" {
				article.ImageURL = typed.URL
			}
		case PublishedAtTag:
			if article.PublishedAtSeconds == 0 {
				article.PublishedAtSeconds = typed.Seconds
			}
		}
	}
	return article
}

func mapComment(event nostr.Event, sourceRelay string) Comment {
	comment := Comment{
		EventID:          event.ID,
		PubKey:           event.PubKey,
		CreatedAtSeconds: event.CreatedAt,
		Content:          event.Content,
		SourceRelay:      sourceRelay,
	}

	for _, tag := range ParseTags(event.Tags) {
		switch typed := tag.(type) {
		case EventRefTag:
			if typed.Root {
				if comment.RootEventID == "" {
					comment.RootEventID = typed.EventID
				}
				continue
			}
			// Legacy kind-1 threads mark roots and replies on lowercase
			// 'e' tags instead of the uppercase pair.
			switch typed.Marker {
			case "root":
				if comment.RootEventID == "" {
					comment.RootEventID = typed.EventID
				}
			case "reply":
				comment.ParentEventID = typed.EventID
			default:
				if comment.ParentEventID == "" {
					comment.ParentEventID = typed.EventID
				}
			}
		case KindRefTag:
			if typed.Root {
				if comment.RootKind == 0 {
					comment.RootKind = typed.Kind
				}
			} else if comment.ParentKind == 0 {
				comment.ParentKind = typed.Kind
			}
		case PubKeyRefTag:
			if typed.Root {
				if comment.RootPubKey == "" {
					comment.RootPubKey = typed.PubKey
				}
			} else if comment.ParentPubKey == "" {
				comment.ParentPubKey = typed.PubKey
			}
		}
	}

	// A flat reply thread roots and parents at the same event.
	if comment.ParentEventID == "" {
		comment.ParentEventID = comment.RootEventID
	}
	if comment.RootEventID == "" {
		comment.RootEventID = comment.ParentEventID
	}
	return comment
}

func mapHighlight(event nostr.Event, sourceRelay string) Highlight {
	highlight := Highlight{
		EventID:          event.ID,
		PubKey:           event.PubKey,
		CreatedAtSeconds: event.CreatedAt,
		Content:          event.Content,
		SourceRelay:      sourceRelay,
	}

	for _, tag := range ParseTags(event.Tags) {
		switch typed := tag.(type) {
		case EventRefTag:
			if highlight.SourceEventID == "" {
				highlight.SourceEventID = typed.EventID
			}
		case AddressRefTag:
			if highlight.SourceAddress == "" {
				highlight.SourceAddress = typed.Address
			}
		case URLRefTag:
			if highlight.SourceURL == "" {
				highlight.SourceURL = typed.URL
			}
		case ContextTag:
			if highlight.Context == "" {
				highlight.Context = typed.Context
			}
		}
	}
	return highlight
}

func mapMediaItem(event nostr.Event, sourceRelay string) MediaItem {
	item := MediaItem{
		EventID:          event.ID,
		PubKey:           event.PubKey,
		CreatedAtSeconds: event.CreatedAt,
		Description:      event.Content,
		SourceRelay:      sourceRelay,
	}

	for _, tag := range ParseTags(event.Tags) {
		switch typed := tag.(type) {
		case MediaURLTag:
			if item.URL == "" {
				item.URL = typed.URL
			}
		case MimeTypeTag:
			if item.MimeType == "" {
				item.MimeType = typed.MimeType
			}
		case HashTag:
			if item.SHA256 == "" {
				item.SHA256 = typed.SHA256
			}
		case DimensionsTag:
			if item.Dimensions == "" {
				item.Dimensions = typed.Dimensions
			}
		case AltTag:
			if item.Alt == "" {
				item.Alt = typed.Alt
			}
		}
	}
	return item
}

func mapGenericEvent(event nostr.Event, sourceRelay string) (GenericEvent, error) {
	tags := event.Tags
	if tags == nil {
		tags = nostr.Tags{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return GenericEvent{}, err
	}
	return GenericEvent{
		EventID:          event.ID,
		PubKey:           event.PubKey,
		Kind:             event.Kind,
		CreatedAtSeconds: event.CreatedAt,
		TagsJSON:         string(tagsJSON),
		Content:          event.Content,
		SourceRelay:      sourceRelay,
	}, nil
}
