package whop

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ChatMessage is the canonical internal shape of a chat feed entry. The wire
// payload varies between feed versions; UnmarshalJSON maps every accepted
// variant into this one shape so callers never see the raw forms.
type ChatMessage struct {
	ActorID   string
	ActorName string
	Text      string
	CreatedAt time.Time
}

// UnmarshalJSON supports the field-name variants observed across feed
// response shapes.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	m.ActorID = readStringRaw(raw, "userId", "user_id", "authorId", "author_id")
	m.ActorName = readStringRaw(raw, "username", "user_name", "authorName", "author_name")
	if nested := readNested(raw, "author", "user"); nested != nil {
		if m.ActorID == "" {
			m.ActorID = readStringRaw(nested, "id", "userId", "user_id")
		}
		if m.ActorName == "" {
			m.ActorName = readStringRaw(nested, "username", "name")
		}
	}

	m.Text = readStringRaw(raw, "message", "content", "text", "body")
	m.CreatedAt = readTimeRaw(raw, "createdAt", "created_at", "timestamp", "sentAt", "sent_at")
	return nil
}

func parseMessages(body json.RawMessage) ([]ChatMessage, error) {
	// Either {"posts": [...]} / {"data": [...]} or a bare array.
	var wrapped struct {
		Posts []ChatMessage `json:"posts"`
		Data  []ChatMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil {
		if wrapped.Posts != nil {
			return wrapped.Posts, nil
		}
		if wrapped.Data != nil {
			return wrapped.Data, nil
		}
	}

	var bare []ChatMessage
	if err := json.Unmarshal(body, &bare); err != nil {
		return nil, err
	}
	return bare, nil
}

// SortByTimestamp orders messages ascending by creation time, preserving the
// relative order of equal timestamps.
func SortByTimestamp(msgs []ChatMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

func readNested(raw map[string]json.RawMessage, keys ...string) map[string]json.RawMessage {
	for _, key := range keys {
		val, ok := raw[key]
		if !ok {
			continue
		}
		nested := make(map[string]json.RawMessage)
		if err := json.Unmarshal(val, &nested); err == nil && len(nested) > 0 {
			return nested
		}
	}
	return nil
}

func readStringRaw(raw map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		val, ok := raw[key]
		if !ok {
			continue
		}
		var str string
		if err := json.Unmarshal(val, &str); err == nil {
			if trimmed := strings.TrimSpace(str); trimmed != "" {
				return trimmed
			}
			continue
		}
		var num json.Number
		if err := json.Unmarshal(val, &num); err == nil && num.String() != "" {
			return num.String()
		}
	}
	return ""
}

// readTimeRaw accepts RFC3339 strings, epoch seconds and epoch milliseconds.
func readTimeRaw(raw map[string]json.RawMessage, keys ...string) time.Time {
	for _, key := range keys {
		val, ok := raw[key]
		if !ok {
			continue
		}

		var str string
		if err := json.Unmarshal(val, &str); err == nil {
			str = strings.TrimSpace(str)
			if str == "" {
				continue
			}
			if ts, err := time.Parse(time.RFC3339, str); err == nil {
				return ts
			}
			if epoch, err := strconv.ParseInt(str, 10, 64); err == nil {
				return epochToTime(epoch)
			}
			continue
		}

		var epoch int64
		if err := json.Unmarshal(val, &epoch); err == nil {
			return epochToTime(epoch)
		}
	}
	return time.Time{}
}

func epochToTime(epoch int64) time.Time {
	// Values past the year 33658 in seconds are really milliseconds.
	if epoch > 1_000_000_000_000 {
		return time.UnixMilli(epoch).UTC()
	}
	return time.Unix(epoch, 0).UTC()
}
