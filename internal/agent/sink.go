package agent

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Notification is a fully decrypted notification handed to a sink.
type Notification struct {
	ItemID     string    `json:"itemid"`
	Title      string    `json:"title"`
	Subtitle   string    `json:"subtitle"`
	ReceivedAt time.Time `json:"received_at"`
}

// Sink consumes decrypted notifications.
type Sink interface {
	Deliver(n Notification) error
}

// FileSink appends notifications to a JSONL file. A notification whose item
// id matches an existing line replaces that line, so redelivered retained
// messages and collapsed duplicates do not stack.
type FileSink struct {
	mu   sync.Mutex
	path string
}

// NewFileSink creates the sink's parent directory if needed.
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sink directory: %w", err)
	}
	return &FileSink{path: path}, nil
}

func (s *FileSink) Deliver(n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load()
	if err != nil {
		return err
	}
	out := existing[:0]
	for _, prev := range existing {
		if prev.ItemID != n.ItemID {
			out = append(out, prev)
		}
	}
	out = append(out, n)
	return s.write(out)
}

// Notifications returns the current sink contents in delivery order.
func (s *FileSink) Notifications() ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileSink) load() ([]Notification, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open sink: %w", err)
	}
	defer f.Close()

	var out []Notification
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var n Notification
		if err := json.Unmarshal(line, &n); err != nil {
			return nil, fmt.Errorf("corrupt sink line: %w", err)
		}
		out = append(out, n)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read sink: %w", err)
	}
	return out, nil
}

func (s *FileSink) write(entries []Notification) error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("write sink: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, n := range entries {
		if err := enc.Encode(n); err != nil {
			f.Close()
			return fmt.Errorf("encode sink entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush sink: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close sink: %w", err)
	}
	return os.Rename(tmp, s.path)
}
