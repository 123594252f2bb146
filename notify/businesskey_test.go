package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestChatBusinessKeyWindows(t *testing.T) {
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	k1 := ChatBusinessKey(1, 10, "on my way", base)
	// Same content to the same recipient inside the window collapses
	k2 := ChatBusinessKey(1, 10, "on my way", base.Add(30*time.Second))
	assert.Equal(t, k1, k2)

	// Outside the window the key rolls over
	k3 := ChatBusinessKey(1, 10, "on my way", base.Add(ChatWindow+time.Second))
	assert.NotEqual(t, k1, k3)

	// Different content, recipient, or room all split the key
	assert.NotEqual(t, k1, ChatBusinessKey(1, 10, "running late", base))
	assert.NotEqual(t, k1, ChatBusinessKey(1, 11, "on my way", base))
	assert.NotEqual(t, k1, ChatBusinessKey(2, 10, "on my way", base))
}

func TestReadyBusinessKeyWindows(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	assert.Equal(t, ReadyBusinessKey(5, base), ReadyBusinessKey(5, base.Add(15*time.Second)))
	assert.NotEqual(t, ReadyBusinessKey(5, base), ReadyBusinessKey(5, base.Add(ReadyWindow+time.Second)))
	assert.NotEqual(t, ReadyBusinessKey(5, base), ReadyBusinessKey(6, base))
}

func TestSystemBusinessKeyWindows(t *testing.T) {
	base := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)

	k1 := SystemBusinessKey(10, "Notice", "Service window tonight", base)
	assert.Equal(t, k1, SystemBusinessKey(10, "Notice", "Service window tonight", base.Add(4*time.Minute)))
	assert.NotEqual(t, k1, SystemBusinessKey(10, "Notice", "Service window tonight", base.Add(SystemWindow+time.Second)))
	assert.NotEqual(t, k1, SystemBusinessKey(11, "Notice", "Service window tonight", base))
	assert.NotEqual(t, k1, SystemBusinessKey(10, "Notice", "Other body", base))
}

func TestBusinessKeyIsDeterministicAcrossInstances(t *testing.T) {
	// Two instances computing the key at the same moment must agree;
	// there is no per-instance state in the key.
	now := time.Unix(1770000000, 0)
	assert.Equal(t,
		ChatBusinessKey(7, 42, "pickup at gate 3", now),
		ChatBusinessKey(7, 42, "pickup at gate 3", now))
}
