package core

import (
	"strings"

	"github.com/google/uuid"
)

// NewTaskID returns a short opaque task identifier: the first six hex
// characters of a random UUID (e.g. "a1b2c3"). Short IDs keep record file
// names and CLI arguments readable while staying unique within one queue.
func NewTaskID() string {
	return shortHex(6)
}

// NewExecutionID returns a globally addressable execution identifier of
// the form "exec-a1b2c3".
func NewExecutionID() string {
	return "exec-" + shortHex(6)
}

func shortHex(n int) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n > len(id) {
		n = len(id)
	}
	return id[:n]
}
