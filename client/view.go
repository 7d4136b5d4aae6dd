package client

import (
	"sync"

	"github.com/trezcool/shule/core/messaging"
)

// View is the local, optimistic copy of the authenticated user's messages.
//
// The snapshot is replaced wholesale by each successful refresh; deletions are
// applied immediately as tombstones over the snapshot so the UI updates without
// waiting for the server, and are rolled back if the server rejects the request.
// A successful refresh drops all tombstones since the snapshot then reflects
// the server's post-delete state.
type View struct {
	userID string

	mu         sync.RWMutex
	msgs       []messaging.Message
	tombstones map[string]struct{}
}

// NewView creates an empty View for userID.
func NewView(userID string) *View {
	return &View{
		userID:     userID,
		tombstones: make(map[string]struct{}),
	}
}

// Replace installs a fresh snapshot and clears all tombstones.
func (v *View) Replace(msgs []messaging.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.msgs = msgs
	v.tombstones = make(map[string]struct{})
}

// Messages returns the current snapshot minus tombstoned messages.
func (v *View) Messages() []messaging.Message {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]messaging.Message, 0, len(v.msgs))
	for _, msg := range v.msgs {
		if _, gone := v.tombstones[msg.ID]; gone {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// Conversations aggregates the visible snapshot into per-partner summaries.
func (v *View) Conversations(lookup messaging.PartnerLookup) []messaging.Conversation {
	return messaging.BuildConversations(v.userID, v.Messages(), lookup)
}

// UnreadCount returns the number of unread messages across all conversations.
func (v *View) UnreadCount() int {
	var n int
	for _, msg := range v.Messages() {
		if msg.UnreadBy(v.userID) {
			n++
		}
	}
	return n
}

// DeleteMessage hides the message immediately, then calls del to confirm with
// the server. The local hide is rolled back when del fails so the message
// reappears instead of silently diverging from the server.
func (v *View) DeleteMessage(messageID string, del func() error) error {
	v.hide(messageID)
	if err := del(); err != nil {
		v.restore(messageID)
		return err
	}
	return nil
}

// DeleteConversation hides every message exchanged with partnerID immediately,
// then calls del to confirm with the server, rolling back on failure.
func (v *View) DeleteConversation(partnerID string, del func() error) error {
	hidden := v.hideConversation(partnerID)
	if err := del(); err != nil {
		v.restore(hidden...)
		return err
	}
	return nil
}

func (v *View) hide(ids ...string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, id := range ids {
		v.tombstones[id] = struct{}{}
	}
}

func (v *View) hideConversation(partnerID string) []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	hidden := make([]string, 0)
	for _, msg := range v.msgs {
		if msg.PartnerID(v.userID) != partnerID {
			continue
		}
		if _, gone := v.tombstones[msg.ID]; gone {
			continue
		}
		v.tombstones[msg.ID] = struct{}{}
		hidden = append(hidden, msg.ID)
	}
	return hidden
}

func (v *View) restore(ids ...string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, id := range ids {
		delete(v.tombstones, id)
	}
}
