package id

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NewStoryID returns a "story_" prefixed identifier. The prefix keeps story
// keys recognizable in queue task IDs, object paths, and webhook payloads.
func NewStoryID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("story_%024x", time.Now().UnixNano())
	}
	return "story_" + hex.EncodeToString(b[:])
}
