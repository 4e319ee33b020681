// Package beacon delivers ad tracking pixels at-least-once: a producer
// enqueues one message per tracking event, a consumer fires the URLs with
// bounded retries, dedup, and a dead-letter queue.
package beacon

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Queue topics.
const (
	Topic    = "beacons"
	DLQTopic = "beacons-dlq"
)

// Message is one tracking event to deliver. TrackerURLs are fired
// concurrently; the message succeeds only if every URL lands a 2xx.
type Message struct {
	AdID        string   `json:"adId"`
	Event       string   `json:"event"`
	SessionHint string   `json:"sessionHint,omitempty"`
	TrackerURLs []string `json:"trackerUrls"`

	Attempt     int   `json:"attempt,omitempty"`
	NotBeforeMs int64 `json:"notBeforeMs,omitempty"`
	EnqueuedMs  int64 `json:"enqueuedMs,omitempty"`
}

// DedupKey identifies a logical beacon regardless of retries. The session
// hint keeps distinct viewer sessions from collapsing into one fire.
func (m *Message) DedupKey() string {
	sum := sha256.Sum256([]byte(m.AdID + "|" + m.Event + "|" + m.SessionHint))
	return "beacon:" + hex.EncodeToString(sum[:])
}

func (m *Message) encode() ([]byte, error) {
	return json.Marshal(m)
}

func decode(body []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
