// Package notify parses storage-created notifications delivered over
// Pub/Sub into the events that trigger the transform stage.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

// ErrIgnore marks a notification that is well-formed but should not trigger
// a transform, such as an object deletion event.
var ErrIgnore = errors.New("notification does not describe a created object")

// finalizeEvent is the storage event type emitted for created or
// overwritten objects.
const finalizeEvent = "OBJECT_FINALIZE"

// Event identifies one created or overwritten raw object.
type Event struct {
	Bucket string
	Key    string
}

// payload is the JSON body shape of a storage notification.
type payload struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// Parse extracts an Event from a notification's attributes and body. The
// object key arrives transport-encoded; it is URL-decoded, with "+" read as
// space, before use. A notification that cannot be parsed is permanently
// malformed: callers should skip it, not retry it.
func Parse(attrs map[string]string, body []byte) (Event, error) {
	if t, ok := attrs["eventType"]; ok && t != finalizeEvent {
		return Event{}, fmt.Errorf("%w: event type %s", ErrIgnore, t)
	}

	bucket := attrs["bucketId"]
	key := attrs["objectId"]
	if key == "" {
		var p payload
		if err := json.Unmarshal(body, &p); err != nil {
			return Event{}, fmt.Errorf("decode notification body: %w", err)
		}
		bucket = p.Bucket
		key = p.Name
	}
	if key == "" {
		return Event{}, fmt.Errorf("notification names no object")
	}

	decoded, err := url.QueryUnescape(key)
	if err != nil {
		return Event{}, fmt.Errorf("decode object key %q: %w", key, err)
	}
	return Event{Bucket: bucket, Key: decoded}, nil
}
