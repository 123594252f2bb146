// Package notify implements the push-notification pipeline: fleet-wide
// dedup through deterministic business keys, the shared FIFO, adaptive
// batch sizing, and multicast dispatch with retry and token purge.
package notify

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"campusride/core"
)

// Dedup windows. Two triggers producing the same business key within a
// window collapse into one queued event, with no cross-instance
// coordination needed.
const (
	ChatWindow   = 60 * time.Second
	ReadyWindow  = 30 * time.Second
	SystemWindow = 300 * time.Second
)

// ChatBusinessKey collapses identical chat content to the same recipient
// within the chat window.
func ChatBusinessKey(roomID core.RoomID, target core.MemberID, body string, now time.Time) string {
	return fmt.Sprintf("chat:%d:%d:%d:%s",
		roomID, target, window(now, ChatWindow), contentHash(body))
}

// ReadyBusinessKey collapses ready-request pushes per room within the
// ready window.
func ReadyBusinessKey(roomID core.RoomID, now time.Time) string {
	return fmt.Sprintf("ready:%d:%d", roomID, window(now, ReadyWindow))
}

// SystemBusinessKey collapses identical system notifications per member
// within the system window.
func SystemBusinessKey(target core.MemberID, title, body string, now time.Time) string {
	return fmt.Sprintf("system:%d:%d:%s",
		target, window(now, SystemWindow), contentHash(title+body))
}

func window(now time.Time, size time.Duration) int64 {
	return now.Unix() / int64(size/time.Second)
}

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:4])
}
