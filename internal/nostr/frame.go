package nostr

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wire frame labels.
const (
	labelEvent  = "EVENT"
	labelEOSE   = "EOSE"
	labelNotice = "NOTICE"
	labelOK     = "OK"
	labelAuth   = "AUTH"
	labelReq    = "REQ"
	labelClose  = "CLOSE"
)

// ErrMalformedFrame indicates an inbound frame that does not follow the
// protocol's array shape. Callers drop the frame and keep reading.
var ErrMalformedFrame = errors.New("nostr: malformed frame")

// Frame is one inbound relay message.
type Frame interface {
	frameLabel() string
}

// EventFrame carries one event on a subscription.
type EventFrame struct {
	SubscriptionID string
	Event          Event
}

// EOSEFrame signals the end of stored events for a subscription.
type EOSEFrame struct {
	SubscriptionID string
}

// NoticeFrame is a human-readable relay message.
type NoticeFrame struct {
	Message string
}

// OKFrame acknowledges a published event.
type OKFrame struct {
	EventID  string
	Accepted bool
	Message  string
}

// AuthFrame carries a relay authentication challenge. It is surfaced to
// the caller and never answered automatically.
type AuthFrame struct {
	Challenge string
}

func (EventFrame) frameLabel() string  { return labelEvent }
func (EOSEFrame) frameLabel() string   { return labelEOSE }
func (NoticeFrame) frameLabel() string { return labelNotice }
func (OKFrame) frameLabel() string     { return labelOK }
func (AuthFrame) frameLabel() string   { return labelAuth }

// ParseFrame decodes one inbound frame. Unknown labels and shape
// violations return ErrMalformedFrame.
func ParseFrame(data []byte) (Frame, error) {
	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(elements) == 0 {
		return nil, fmt.Errorf("%w: empty array", ErrMalformedFrame)
	}

	var label string
	if err := json.Unmarshal(elements[0], &label); err != nil {
		return nil, fmt.Errorf("%w: non-string label", ErrMalformedFrame)
	}

	switch label {
	case labelEvent:
		if len(elements) != 3 {
			return nil, fmt.Errorf("%w: EVENT expects 3 elements, got %d", ErrMalformedFrame, len(elements))
		}
		frame := EventFrame{}
		if err := json.Unmarshal(elements[1], &frame.SubscriptionID); err != nil {
			return nil, fmt.Errorf("%w: EVENT subscription id: %v", ErrMalformedFrame, err)
		}
		if err := json.Unmarshal(elements[2], &frame.Event); err != nil {
			return nil, fmt.Errorf("%w: EVENT payload: %v", ErrMalformedFrame, err)
		}
		return frame, nil
	case labelEOSE:
		if len(elements) != 2 {
			return nil, fmt.Errorf("%w: EOSE expects 2 elements, got %d", ErrMalformedFrame, len(elements))
		}
		frame := EOSEFrame{}
		if err := json.Unmarshal(elements[1], &frame.SubscriptionID); err != nil {
			return nil, fmt.Errorf("%w: EOSE subscription id: %v", ErrMalformedFrame, err)
		}
		return frame, nil
	case labelNotice:
		if len(elements) != 2 {
			return nil, fmt.Errorf("%w: NOTICE expects 2 elements, got %d", ErrMalformedFrame, len(elements))
		}
		frame := NoticeFrame{}
		if err := json.Unmarshal(elements[1], &frame.Message); err != nil {
			return nil, fmt.Errorf("%w: NOTICE message: %v", ErrMalformedFrame, err)
		}
		return frame, nil
	case labelOK:
		if len(elements) < 3 {
			return nil, fmt.Errorf("%w: OK expects at least 3 elements, got %d", ErrMalformedFrame, len(elements))
		}
		frame := OKFrame{}
		if err := json.Unmarshal(elements[1], &frame.EventID); err != nil {
			return nil, fmt.Errorf("%w: OK event id: %v", ErrMalformedFrame, err)
		}
		if err := json.Unmarshal(elements[2], &frame.Accepted); err != nil {
			return nil, fmt.Errorf("%w: OK accepted flag: %v", ErrMalformedFrame, err)
		}
		if len(elements) > 3 {
			if err := json.Unmarshal(elements[3], &frame.Message); err != nil {
				return nil, fmt.Errorf("%w: OK message: %v", ErrMalformedFrame, err)
			}
		}
		return frame, nil
	case labelAuth:
		if len(elements) != 2 {
			return nil, fmt.Errorf("%w: AUTH expects 2 elements, got %d", ErrMalformedFrame, len(elements))
		}
		frame := AuthFrame{}
		if err := json.Unmarshal(elements[1], &frame.Challenge); err != nil {
			return nil, fmt.Errorf("%w: AUTH challenge: %v", ErrMalformedFrame, err)
		}
		return frame, nil
	default:
		return nil, fmt.Errorf("%w: unknown label %q", ErrMalformedFrame, label)
	}
}

// EncodeReq renders ["REQ", subscriptionID, filter...].
func EncodeReq(subscriptionID string, filters ...Filter) ([]byte, error) {
	elements := make([]interface{}, 0, 2+len(filters))
	elements = append(elements, labelReq, subscriptionID)
	for _, filter := range filters {
		elements = append(elements, filter)
	}
	return json.Marshal(elements)
}

// EncodeClose renders ["CLOSE", subscriptionID].
func EncodeClose(subscriptionID string) ([]byte, error) {
	return json.Marshal([]interface{}{labelClose, subscriptionID})
}

// EncodeEvent renders the outbound publish frame ["EVENT", event].
func EncodeEvent(event Event) ([]byte, error) {
	return json.Marshal([]interface{}{labelEvent, event})
}
