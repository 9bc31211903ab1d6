package fallback

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DeferredItem is one query persisted for later processing.
type DeferredItem struct {
	Query    string    `json:"query"`
	Category string    `json:"category"`
	UserID   string    `json:"user_id"`
	Priority int       `json:"priority"`
	QueuedAt time.Time `json:"queued_at"`
}

// DeferredQueue is a durable JSONL queue of deferred queries, one object
// per line. Appends are synchronous; this path only runs when generation
// is already blocked, so write latency is not on anyone's hot path.
type DeferredQueue struct {
	mu   sync.Mutex
	path string
}

// OpenDeferredQueue prepares a queue at the given file path, creating the
// parent directory if needed.
func OpenDeferredQueue(path string) (*DeferredQueue, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("fallback: create deferred queue directory: %w", err)
	}
	return &DeferredQueue{path: path}, nil
}

// Append adds an item to the end of the queue file.
func (q *DeferredQueue) Append(item DeferredItem) error {
	line, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("fallback: encoding deferred item: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	f, err := os.OpenFile(q.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("fallback: opening deferred queue: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("fallback: writing deferred item: %w", err)
	}
	return nil
}

// Items returns everything currently queued. Corrupt lines are logged and
// skipped.
func (q *DeferredQueue) Items() ([]DeferredItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	f, err := os.Open(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fallback: opening deferred queue: %w", err)
	}
	defer f.Close()

	var items []DeferredItem
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var item DeferredItem
		if err := json.Unmarshal(scanner.Bytes(), &item); err != nil {
			log.Warn().Err(err).Msg("fallback: skipping corrupt deferred queue line")
			continue
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return items, fmt.Errorf("fallback: reading deferred queue: %w", err)
	}
	return items, nil
}

// Len returns the number of readable items in the queue.
func (q *DeferredQueue) Len() (int, error) {
	items, err := q.Items()
	if err != nil {
		return 0, err
	}
	return len(items), nil
}
