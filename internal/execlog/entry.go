package execlog

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Entry is one line of an execution log. Runner output that is already
// JSON is embedded as-is in Payload; plain text is wrapped in a small
// {"type":"text","text":...} object so every line stays machine-readable.
type Entry struct {
	Timestamp   time.Time       `json:"timestamp"`
	ExecutionID string          `json:"execution_id"`
	TaskID      string          `json:"task_id"`
	Stream      string          `json:"stream"` // stdout or stderr
	Payload     json.RawMessage `json:"payload"`
}

// Writer is the single log sink for one execution. It is safe for use by
// the stdout and stderr pump goroutines concurrently; every line is
// written unbuffered so tailers see it without waiting for process exit.
type Writer struct {
	mu     sync.Mutex
	file   *os.File
	execID string
	taskID string
	now    func() time.Time
}

// WriteLine records one line of runner output on the given stream.
func (w *Writer) WriteLine(stream, line string) error {
	if strings.TrimSpace(line) == "" {
		return nil
	}

	payload := json.RawMessage(line)
	if !json.Valid(payload) {
		wrapped, err := json.Marshal(map[string]string{"type": "text", "text": line})
		if err != nil {
			return fmt.Errorf("encoding log line: %w", err)
		}
		payload = wrapped
	}

	entry := Entry{
		Timestamp:   w.now().UTC(),
		ExecutionID: w.execID,
		TaskID:      w.taskID,
		Stream:      stream,
		Payload:     payload,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding log entry: %w", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.file.Write(data); err != nil {
		return fmt.Errorf("writing log entry: %w", err)
	}
	return nil
}

// Close closes the underlying log file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// Pretty reinterprets one structured log line into a human-readable form
// for streaming viewers.
func Pretty(raw string) string {
	return prettyLine(raw)
}

// prettyLine reinterprets one structured log line into a human-readable
// form. Any parse failure falls back to returning the raw line, so pretty
// rendering never errors the viewer.
func prettyLine(raw string) string {
	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return raw
	}

	prefix := entry.Timestamp.Local().Format("15:04:05")
	if entry.Stream == "stderr" {
		prefix += " !"
	} else {
		prefix += "  "
	}

	var payload map[string]any
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		return prefix + " " + string(entry.Payload)
	}

	if text := extractText(payload); text != "" {
		kind, _ := payload["type"].(string)
		if kind != "" && kind != "text" {
			return fmt.Sprintf("%s [%s] %s", prefix, kind, text)
		}
		return prefix + " " + text
	}

	// Structured entry with no obvious text: show a compact summary.
	compact, err := json.Marshal(payload)
	if err != nil {
		return prefix + " " + string(entry.Payload)
	}
	return prefix + " " + string(compact)
}

// extractText digs the displayable text out of the runner's structured
// output. It understands the flat {"text": ...} shape and the nested
// message/content shape emitted by assistant stream formats.
func extractText(payload map[string]any) string {
	if text, ok := payload["text"].(string); ok {
		return text
	}
	if msg, ok := payload["message"].(map[string]any); ok {
		if content, ok := msg["content"].([]any); ok {
			var parts []string
			for _, c := range content {
				if block, ok := c.(map[string]any); ok {
					if text, ok := block["text"].(string); ok {
						parts = append(parts, text)
					}
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, "\n")
			}
		}
	}
	return ""
}
