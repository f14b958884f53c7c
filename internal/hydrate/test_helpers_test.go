package hydrate

import (
	"encoding/hex"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/tidewater-labs/driftnet/internal/nostr"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "hydrate.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Article{}, &Comment{}, &Highlight{}, &MediaItem{}, &GenericEvent{}); err != nil {
		t.Fatalf("migrate schema: %v", err)
	}
	return db
}

func newTestProjector(t *testing.T) (*Projector, *gorm.DB) {
	t.Helper()

	db := openTestDatabase(t)
	projector, err := NewProjector(ProjectorConfig{Database: db})
	if err != nil {
		t.Fatalf("unexpected projector error: %v", err)
	}
	return projector, db
}

func signedEvent(t *testing.T, kind int, tags nostr.Tags, content string) nostr.Event {
	t.Helper()

	privateKey, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	if tags == nil {
		tags = nostr.Tags{}
	}
	event := nostr.Event{
		PubKey:    hex.EncodeToString(schnorr.SerializePubKey(privateKey.PubKey())),
		CreatedAt: time.Now().Unix(),
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}

	id, err := event.ComputeID()
	if err != nil {
		t.Fatalf("compute id: %v", err)
	}
	event.ID = id

	idBytes, err := hex.DecodeString(id)
	if err != nil {
		t.Fatalf("decode id: %v", err)
	}
	signature, err := schnorr.Sign(privateKey, idBytes)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	event.Sig = hex.EncodeToString(signature.Serialize())
	return event
}
