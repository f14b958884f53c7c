package nostr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

const (
	idHexLength     = 64
	pubKeyHexLength = 64
	sigHexLength    = 128
)

var (
	// ErrMissingField indicates that a required event field is absent or malformed.
	ErrMissingField = errors.New("nostr: missing required event field")
)

// Tag is an ordered list of strings; the first element names the tag.
type Tag []string

// Name returns the tag name, or an empty string for an empty tag.
func (t Tag) Name() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the tag's first value (second element), or an empty string.
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// Tags is the ordered tag sequence attached to an event.
type Tags []Tag

// First returns the first tag with the given name, or nil.
func (ts Tags) First(name string) Tag {
	for _, tag := range ts {
		if tag.Name() == name {
			return tag
		}
	}
	return nil
}

// FirstValue returns the value of the first tag with the given name, or "".
func (ts Tags) FirstValue(name string) string {
	return ts.First(name).Value()
}

// Values returns the values of every tag with the given name, in order.
func (ts Tags) Values(name string) []string {
	var values []string
	for _, tag := range ts {
		if tag.Name() == name {
			values = append(values, tag.Value())
		}
	}
	return values
}

// Event is an immutable, content-addressed, signed relay message.
type Event struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      Tags   `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

// Serialize renders the canonical form hashed into the event id: the
// compact JSON array [0, pubkey, created_at, kind, tags, content].
func (e *Event) Serialize() ([]byte, error) {
	tags := e.Tags
	if tags == nil {
		tags = Tags{}
	}
	payload := []interface{}{0, e.PubKey, e.CreatedAt, e.Kind, tags, e.Content}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(payload); err != nil {
		return nil, fmt.Errorf("nostr: serialize event: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ComputeID returns hex(sha256(Serialize())).
func (e *Event) ComputeID() (string, error) {
	serialized, err := e.Serialize()
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(serialized)
	return hex.EncodeToString(digest[:]), nil
}

// Verify recomputes the event id, checks it against the claimed id, and
// verifies the Schnorr signature over the id bytes against the x-only
// public key. It is pure and never trusts any field it has not checked.
func (e *Event) Verify() bool {
	if len(e.ID) != idHexLength || len(e.PubKey) != pubKeyHexLength || len(e.Sig) != sigHexLength {
		return false
	}

	computed, err := e.ComputeID()
	if err != nil || computed != e.ID {
		return false
	}

	idBytes, err := hex.DecodeString(e.ID)
	if err != nil {
		return false
	}
	pubKeyBytes, err := hex.DecodeString(e.PubKey)
	if err != nil {
		return false
	}
	sigBytes, err := hex.DecodeString(e.Sig)
	if err != nil {
		return false
	}

	pubKey, err := schnorr.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}

	return sig.Verify(idBytes, pubKey)
}

// ValidateShape checks that the fields required before projection are
// present. Signature validity is Verify's concern.
func (e *Event) ValidateShape() error {
	if len(e.ID) != idHexLength {
		return fmt.Errorf("%w: id", ErrMissingField)
	}
	if len(e.PubKey) != pubKeyHexLength {
		return fmt.Errorf("%w: pubkey", ErrMissingField)
	}
	if len(e.Sig) != sigHexLength {
		return fmt.Errorf("%w: sig", ErrMissingField)
	}
	if e.CreatedAt <= 0 {
		return fmt.Errorf("%w: created_at", ErrMissingField)
	}
	return nil
}
