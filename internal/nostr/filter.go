package nostr

import (
	"encoding/json"
)

// Filter selects events on a relay subscription. Tag filters are keyed by
// tag name without the leading '#'; they marshal as "#<name>" per the wire
// protocol.
type Filter struct {
	IDs     []string
	Kinds   []int
	Authors []string
	Since   *int64
	Until   *int64
	Limit   int
	Tags    map[string][]string
}

// MarshalJSON renders the filter as the wire-level JSON object, omitting
// unset fields.
func (f Filter) MarshalJSON() ([]byte, error) {
	object := make(map[string]interface{})
	if len(f.IDs) > 0 {
		object["ids"] = f.IDs
	}
	if len(f.Kinds) > 0 {
		object["kinds"] = f.Kinds
	}
	if len(f.Authors) > 0 {
		object["authors"] = f.Authors
	}
	if f.Since != nil {
		object["since"] = *f.Since
	}
	if f.Until != nil {
		object["until"] = *f.Until
	}
	if f.Limit > 0 {
		object["limit"] = f.Limit
	}
	for name, values := range f.Tags {
		if len(values) > 0 {
			object["#"+name] = values
		}
	}
	return json.Marshal(object)
}

// UnmarshalJSON parses the wire-level JSON object form.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var object map[string]json.RawMessage
	if err := json.Unmarshal(data, &object); err != nil {
		return err
	}

	parsed := Filter{}
	for key, raw := range object {
		switch key {
		case "ids":
			if err := json.Unmarshal(raw, &parsed.IDs); err != nil {
				return err
			}
		case "kinds":
			if err := json.Unmarshal(raw, &parsed.Kinds); err != nil {
				return err
			}
		case "authors":
			if err := json.Unmarshal(raw, &parsed.Authors); err != nil {
				return err
			}
		case "since":
			var since int64
			if err := json.Unmarshal(raw, &since); err != nil {
				return err
			}
			parsed.Since = &since
		case "until":
			var until int64
			if err := json.Unmarshal(raw, &until); err != nil {
				return err
			}
			parsed.Until = &until
		case "limit":
			if err := json.Unmarshal(raw, &parsed.Limit); err != nil {
				return err
			}
		default:
			if len(key) > 1 && key[0] == '#' {
				var values []string
				if err := json.Unmarshal(raw, &values); err != nil {
					return err
				}
				if parsed.Tags == nil {
					parsed.Tags = make(map[string][]string)
				}
				parsed.Tags[key[1:]] = values
			}
		}
	}

	*f = parsed
	return nil
}
