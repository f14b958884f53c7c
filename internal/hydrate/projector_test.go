package hydrate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tidewater-labs/driftnet/internal/nostr"
)

func TestProjectArticleMapsTags(t *testing.T) {
	projector, db := newTestProjector(t)

	event := signedEvent(t, KindLongFormArticle, nostr.Tags{
		{"d", "deep-water-moorings"},
		{"title", "Deep Water Moorings"},
		{"summary", "Anchoring past the shelf break."},
		{"image", "https://cdn.example.com/moorings.jpg"},
		{"published_at", "1700000000"},
	}, "Full article body.")

	outcome, err := projector.Project(context.Background(), event, "wss://relay.example.com")
	if err != nil {
		t.Fatalf("unexpected project error: %v", err)
	}
	if outcome.Duplicate {
		t.Fatalf("expected fresh projection, got duplicate")
	}

	var stored Article
	if err := db.Where("event_id = ?", event.ID).Take(&stored).Error; err != nil {
		t.Fatalf("load article: %v", err)
	}
	if stored.Slug != "deep-water-moorings" {
		t.Fatalf("unexpected slug: %q", stored.Slug)
	}
	if stored.Title != "Deep Water Moorings" {
		t.Fatalf("unexpected title: %q", stored.Title)
	}
	if stored.Summary != "Anchoring past the shelf break." {
		t.Fatalf("unexpected summary: %q", stored.Summary)
	}
	if stored.ImageURL != "https://cdn.example.com/moorings.jpg" {
		t.Fatalf("unexpected image url: %q", stored.ImageURL)
	}
	if stored.PublishedAtSeconds != 1700000000 {
		t.Fatalf("unexpected published_at: %d", stored.PublishedAtSeconds)
	}
	if stored.Content != "Full article body." {
		t.Fatalf("unexpected content: %q", stored.Content)
	}
	if stored.SourceRelay != "wss://relay.example.com" {
		t.Fatalf("unexpected source relay: %q", stored.SourceRelay)
	}
}

func TestProjectSameEventTwiceKeepsOneRow(t *testing.T) {
	projector, db := newTestProjector(t)
	event := signedEvent(t, KindLongFormArticle, nostr.Tags{{"d", "once"}}, "body")

	first, err := projector.Project(context.Background(), event, "wss://relay-a.example.com")
	if err != nil {
		t.Fatalf("unexpected first project error: %v", err)
	}
	if first.Duplicate {
		t.Fatalf("first projection reported duplicate")
	}

	second, err := projector.Project(context.Background(), event, "wss://relay-b.example.com")
	if err != nil {
		t.Fatalf("unexpected second project error: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("second projection did not report duplicate")
	}

	var count int64
	if err := db.Model(&Article{}).Count(&count).Error; err != nil {
		t.Fatalf("count articles: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 article row, got %d", count)
	}

	// The first delivery wins; a duplicate must not overwrite provenance.
	stored, ok := second.Record.(Article)
	if !ok {
		t.Fatalf("unexpected record type %T", second.Record)
	}
	if stored.SourceRelay != "wss://relay-a.example.com" {
		t.Fatalf("duplicate overwrote source relay: %q", stored.SourceRelay)
	}

	counters := projector.Counters()
	if counters.Projected != 1 || counters.Duplicates != 1 {
		t.Fatalf("unexpected counters: %+v", counters)
	}
}

func TestProjectRejectsMalformedEvent(t *testing.T) {
	projector, _ := newTestProjector(t)

	event := signedEvent(t, KindTextNote, nil, "note")
	event.Sig = ""

	_, err := projector.Project(context.Background(), event, "wss://relay.example.com")
	if !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if counters := projector.Counters(); counters.Invalid != 1 {
		t.Fatalf("unexpected invalid counter: %d", counters.Invalid)
	}
}

func TestProjectRejectsTamperedEvent(t *testing.T) {
	projector, db := newTestProjector(t)

	event := signedEvent(t, KindTextNote, nil, "original")
	event.Content = "forged"
	event.ID = strings.Repeat("a", 64)

	_, err := projector.Project(context.Background(), event, "wss://relay.example.com")
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}

	var count int64
	if err := db.Model(&Comment{}).Count(&count).Error; err != nil {
		t.Fatalf("count comments: %v", err)
	}
	if count != 0 {
		t.Fatalf("tampered event was persisted")
	}
}

func TestProjectCommentThreadReferences(t *testing.T) {
	projector, db := newTestProjector(t)

	rootID := strings.Repeat("1", 64)
	parentID := strings.Repeat("2", 64)
	rootAuthor := strings.Repeat("3", 64)
	parentAuthor := strings.Repeat("4", 64)

	event := signedEvent(t, KindComment, nostr.Tags{
		{"E", rootID, "wss://relay.example.com"},
		{"K", "30023"},
		{"P", rootAuthor},
		{"e", parentID},
		{"k", "1111"},
		{"p", parentAuthor},
	}, "nested reply")

	if _, err := projector.Project(context.Background(), event, "wss://relay.example.com"); err != nil {
		t.Fatalf("unexpected project error: %v", err)
	}

	var stored Comment
	if err := db.Where("event_id = ?", event.ID).Take(&stored).Error; err != nil {
		t.Fatalf("load comment: %v", err)
	}
	if stored.RootEventID != rootID || stored.RootKind != 30023 || stored.RootPubKey != rootAuthor {
		t.Fatalf("unexpected root reference: %+v", stored)
	}
	if stored.ParentEventID != parentID || stored.ParentKind != 1111 || stored.ParentPubKey != parentAuthor {
		t.Fatalf("unexpected parent reference: %+v", stored)
	}
}

func TestProjectLegacyReplyMarkers(t *testing.T) {
	projector, db := newTestProjector(t)

	rootID := strings.Repeat("5", 64)
	parentID := strings.Repeat("6", 64)

	event := signedEvent(t, KindTextNote, nostr.Tags{
		{"e", rootID, "", "root"},
		{"e", parentID, "", "reply"},
	}, "threaded note")

	if _, err := projector.Project(context.Background(), event, "wss://relay.example.com"); err != nil {
		t.Fatalf("unexpected project error: %v", err)
	}

	var stored Comment
	if err := db.Where("event_id = ?", event.ID).Take(&stored).Error; err != nil {
		t.Fatalf("load comment: %v", err)
	}
	if stored.RootEventID != rootID {
		t.Fatalf("unexpected root: %q", stored.RootEventID)
	}
	if stored.ParentEventID != parentID {
		t.Fatalf("unexpected parent: %q", stored.ParentEventID)
	}
}

func TestProjectFlatReplyRootsAtParent(t *testing.T) {
	projector, db := newTestProjector(t)

	targetID := strings.Repeat("7", 64)
	event := signedEvent(t, KindTextNote, nostr.Tags{
		{"e", targetID},
	}, "top-level reply")

	if _, err := projector.Project(context.Background(), event, "wss://relay.example.com"); err != nil {
		t.Fatalf("unexpected project error: %v", err)
	}

	var stored Comment
	if err := db.Where("event_id = ?", event.ID).Take(&stored).Error; err != nil {
		t.Fatalf("load comment: %v", err)
	}
	if stored.RootEventID != targetID || stored.ParentEventID != targetID {
		t.Fatalf("flat reply not rooted at parent: root=%q parent=%q", stored.RootEventID, stored.ParentEventID)
	}
}

func TestProjectHighlight(t *testing.T) {
	projector, db := newTestProjector(t)

	sourceID := strings.Repeat("8", 64)
	event := signedEvent(t, KindHighlight, nostr.Tags{
		{"e", sourceID},
		{"r", "https://example.com/essay"},
		{"context", "the sentence around the highlight"},
	}, "the highlighted sentence")

	if _, err := projector.Project(context.Background(), event, "wss://relay.example.com"); err != nil {
		t.Fatalf("unexpected project error: %v", err)
	}

	var stored Highlight
	if err := db.Where("event_id = ?", event.ID).Take(&stored).Error; err != nil {
		t.Fatalf("load highlight: %v", err)
	}
	if stored.SourceEventID != sourceID {
		t.Fatalf("unexpected source event: %q", stored.SourceEventID)
	}
	if stored.SourceURL != "https://example.com/essay" {
		t.Fatalf("unexpected source url: %q", stored.SourceURL)
	}
	if stored.Context != "the sentence around the highlight" {
		t.Fatalf("unexpected context: %q", stored.Context)
	}
}

func TestProjectMediaItem(t *testing.T) {
	projector, db := newTestProjector(t)

	digest := strings.Repeat("9", 64)
	event := signedEvent(t, KindFileMetadata, nostr.Tags{
		{"url", "https://cdn.example.com/clip.mp4"},
		{"m", "video/mp4"},
		{"x", digest},
		{"dim", "1920x1080"},
		{"alt", "a short harbor clip"},
	}, "harbor time-lapse")

	if _, err := projector.Project(context.Background(), event, "wss://relay.example.com"); err != nil {
		t.Fatalf("unexpected project error: %v", err)
	}

	var stored MediaItem
	if err := db.Where("event_id = ?", event.ID).Take(&stored).Error; err != nil {
		t.Fatalf("load media item: %v", err)
	}
	if stored.URL != "https://cdn.example.com/clip.mp4" || stored.MimeType != "video/mp4" {
		t.Fatalf("unexpected media fields: %+v", stored)
	}
	if stored.SHA256 != digest || stored.Dimensions != "1920x1080" || stored.Alt != "a short harbor clip" {
		t.Fatalf("unexpected media fields: %+v", stored)
	}
	if stored.Description != "harbor time-lapse" {
		t.Fatalf("unexpected description: %q", stored.Description)
	}
}

func TestProjectZapReceiptLandsInGenericTable(t *testing.T) {
	projector, db := newTestProjector(t)

	event := signedEvent(t, KindZapReceipt, nostr.Tags{
		{"p", strings.Repeat("a", 64)},
		{"bolt11", "lnbc10n1example"},
	}, "")

	if _, err := projector.Project(context.Background(), event, "wss://relay.example.com"); err != nil {
		t.Fatalf("unexpected project error: %v", err)
	}

	var stored GenericEvent
	if err := db.Where("event_id = ?", event.ID).Take(&stored).Error; err != nil {
		t.Fatalf("load generic event: %v", err)
	}
	if stored.Kind != KindZapReceipt {
		t.Fatalf("unexpected kind: %d", stored.Kind)
	}
	if !strings.Contains(stored.TagsJSON, "bolt11") {
		t.Fatalf("tags not preserved: %q", stored.TagsJSON)
	}
}

func TestProjectBatchSkipsInvalidAndCounts(t *testing.T) {
	projector, db := newTestProjector(t)

	good := signedEvent(t, KindLongFormArticle, nostr.Tags{{"d", "batch-a"}}, "a")
	also := signedEvent(t, KindTextNote, nil, "b")
	forged := signedEvent(t, KindTextNote, nil, "c")
	forged.Sig = strings.Repeat("0", 128)

	events := []nostr.Event{good, also, forged}
	origins := map[string]string{
		good.ID: "wss://relay-a.example.com",
		also.ID: "wss://relay-b.example.com",
	}

	outcome, err := projector.ProjectBatch(context.Background(), events, origins)
	if err != nil {
		t.Fatalf("unexpected batch error: %v", err)
	}
	if outcome.Saved != 2 || outcome.Duplicates != 0 || outcome.Invalid != 1 {
		t.Fatalf("unexpected batch outcome: %+v", outcome)
	}

	var stored Article
	if err := db.Where("event_id = ?", good.ID).Take(&stored).Error; err != nil {
		t.Fatalf("load article: %v", err)
	}
	if stored.SourceRelay != "wss://relay-a.example.com" {
		t.Fatalf("origin not attributed: %q", stored.SourceRelay)
	}

	rerun, err := projector.ProjectBatch(context.Background(), events, origins)
	if err != nil {
		t.Fatalf("unexpected rerun error: %v", err)
	}
	if rerun.Saved != 0 || rerun.Duplicates != 2 || rerun.Invalid != 1 {
		t.Fatalf("unexpected rerun outcome: %+v", rerun)
	}
}

func TestNewProjectorRequiresDatabase(t *testing.T) {
	if _, err := NewProjector(ProjectorConfig{}); err == nil {
		t.Fatalf("expected missing database error")
	}
}
