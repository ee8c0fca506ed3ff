package rooms

import (
	"sync"

	"github.com/mcdev12/watchparty/go/internal/models"
)

// UnreadCounter counts chat arrivals from other users while the chat panel is
// hidden. Showing the panel resets the count.
type UnreadCounter struct {
	mu      sync.Mutex
	userID  string
	visible bool
	unread  int
	lastSeq int64
}

// NewUnreadCounter creates a counter for userID with the panel hidden
func NewUnreadCounter(userID string) *UnreadCounter {
	return &UnreadCounter{userID: userID}
}

// Observe records an arriving message and returns the unread count.
// Messages already observed (by sequence) are ignored.
func (c *UnreadCounter) Observe(msg models.Message) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.Seq != 0 {
		if msg.Seq <= c.lastSeq {
			return c.unread
		}
		c.lastSeq = msg.Seq
	}
	if !c.visible && msg.UserID != c.userID {
		c.unread++
	}
	return c.unread
}

// SetVisible shows or hides the chat panel. Showing it resets the count.
func (c *UnreadCounter) SetVisible(visible bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visible = visible
	if visible {
		c.unread = 0
	}
}

// Unread returns the current unread count
func (c *UnreadCounter) Unread() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread
}
