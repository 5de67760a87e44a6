package room

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/Tyrowin/gochat-relay/internal/store"
)

// appendCapped appends msg and evicts from the front until at most limit
// entries remain. The returned slice never aliases log's backing array, so
// snapshots handed out earlier stay valid. limit must be positive.
func appendCapped(log []Message, msg Message, limit int) []Message {
	n := len(log) + 1
	start := max(n-limit, 0)

	out := make([]Message, 0, n-start)
	out = append(out, log[start:]...)
	return append(out, msg)
}

// capTail returns the newest limit entries of log.
func capTail(log []Message, limit int) []Message {
	if len(log) > limit {
		log = log[len(log)-limit:]
	}
	return append([]Message(nil), log...)
}

// rawEntry carries a message that is not valid UTF-8. JSON strings cannot hold
// such bytes, so they are stored base64-encoded inside an object.
type rawEntry struct {
	Base64 []byte `json:"base64"`
}

// encodeHistory stores the log as a JSON array. Valid UTF-8 messages are plain
// strings; any other message becomes a rawEntry so every byte survives.
func encodeHistory(log []Message) ([]byte, error) {
	entries := make([]any, 0, len(log))
	for _, msg := range log {
		if utf8.ValidString(string(msg)) {
			entries = append(entries, string(msg))
			continue
		}
		entries = append(entries, rawEntry{Base64: []byte(msg)})
	}
	return json.Marshal(entries)
}

func decodeHistory(data []byte) ([]Message, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}

	log := make([]Message, 0, len(entries))
	for i, entry := range entries {
		entry = bytes.TrimSpace(entry)
		if len(entry) > 0 && entry[0] == '{' {
			var raw rawEntry
			if err := json.Unmarshal(entry, &raw); err != nil {
				return nil, fmt.Errorf("decode history entry %d: %w", i, err)
			}
			log = append(log, Message(raw.Base64))
			continue
		}
		var text string
		if err := json.Unmarshal(entry, &text); err != nil {
			return nil, fmt.Errorf("decode history entry %d: %w", i, err)
		}
		log = append(log, Message(text))
	}
	return log, nil
}

// loadHistory reads the whole log stored under key. A missing key is an empty
// log, not an error.
func loadHistory(ctx context.Context, s store.Store, key string) ([]Message, error) {
	data, err := s.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return decodeHistory(data)
}

// saveHistory replaces the stored log with log.
func saveHistory(ctx context.Context, s store.Store, key string, log []Message) error {
	data, err := encodeHistory(log)
	if err != nil {
		return err
	}
	return s.Put(ctx, key, data)
}
