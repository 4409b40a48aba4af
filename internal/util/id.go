package util

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewID returns a random identifier for messages and internal records.
func NewID() string {
	return uuid.NewString()
}

// NewSessionID returns a chat session identifier. The shape matches what the
// chat widget already stores client-side: session_<unix>_<8 hex chars>.
func NewSessionID() string {
	return fmt.Sprintf("session_%d_%s", time.Now().Unix(), uuid.NewString()[:8])
}
