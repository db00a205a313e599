package track

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Message is one loosely-shaped track object as submitted by a client. The
// field set varies by client (SoundCloud API objects, hand-built requests),
// so it is only ever read through the accessors below.
type Message map[string]any

// GetString retrieves message's string value with the given key. Numbers are
// rendered without an exponent so that numeric track ids survive. It returns
// the empty string if the message does not contain the given key or if the
// value is neither a string nor a number.
func (m Message) GetString(key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// GetMessage retrieves message's nested object with the given key, e.g. a
// SoundCloud track's "user". It returns nil if the key is absent or not an
// object.
func (m Message) GetMessage(key string) Message {
	x, ok := m[key].(map[string]any)
	if !ok {
		return nil
	}
	return Message(x)
}

// readMessages decodes a request body into a slice of messages. It accepts
// both {"tracks": [...]} and a bare [...]. Elements that are not objects are
// kept as nil so that their index can be reported.
func readMessages(b []byte) ([]Message, error) {
	var raw any
	if err := decodeJSON(b, &raw); err != nil {
		return nil, err
	}

	var items []any
	switch v := raw.(type) {
	case map[string]any:
		x := v["tracks"]
		if x == nil {
			return nil, nil
		}
		slice, ok := x.([]any)
		if !ok {
			return nil, fmt.Errorf("wrong type for key=tracks: have=%T want=[]any", x)
		}
		items = slice
	case []any:
		items = v
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("wrong type for request body: have=%T", raw)
	}

	msgs := make([]Message, len(items))
	for i, a := range items {
		if m, ok := a.(map[string]any); ok {
			msgs[i] = Message(m)
		}
	}

	return msgs, nil
}

func decodeJSON(b []byte, v any) error {
	d := json.NewDecoder(bytes.NewReader(b))
	d.UseNumber()
	if err := d.Decode(v); err != nil {
		return err
	}

	// The body must hold exactly one value.
	if _, err := d.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("extra data after offset %d", d.InputOffset())
	}
	return nil
}
