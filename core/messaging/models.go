package messaging

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core"
)

// Message is a point-to-point message between two users.
// ID, SenderID, ReceiverID, Subject, Content, StudentID and CreatedAt are
// immutable once created. ReadAt and the two deletion stamps only ever go
// from unset to set.
type Message struct {
	ID         string      `json:"id" db:"id"`
	SenderID   string      `json:"sender_id" db:"sender_id"`
	ReceiverID string      `json:"receiver_id" db:"receiver_id"`
	Subject    null.String `json:"subject,omitempty" db:"subject"`
	Content    string      `json:"content" db:"content"`
	StudentID  null.String `json:"student_id,omitempty" db:"student_id"` // the student this message concerns, if any
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`           // UTC
	ReadAt     null.Time   `json:"read_at,omitempty" db:"read_at"`

	// per-participant visibility stamps; either may be set without affecting the other
	DeletedForSenderAt   null.Time `json:"-" db:"deleted_for_sender_at"`
	DeletedForReceiverAt null.Time `json:"-" db:"deleted_for_receiver_at"`
}

// PartnerID returns the other participant from viewerID's perspective.
func (m Message) PartnerID(viewerID string) string {
	if m.SenderID == viewerID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Involves reports whether userID is one of the two participants.
func (m Message) Involves(userID string) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// VisibleTo reports whether the message appears in viewerID's view:
// visible iff the viewer's own deletion stamp is unset.
func (m Message) VisibleTo(viewerID string) bool {
	switch viewerID {
	case m.SenderID:
		return !m.DeletedForSenderAt.Valid
	case m.ReceiverID:
		return !m.DeletedForReceiverAt.Valid
	}
	return false
}

// UnreadBy reports whether viewerID is the receiver and has not read the message yet.
func (m Message) UnreadBy(viewerID string) bool {
	return m.ReceiverID == viewerID && !m.ReadAt.Valid
}

// Erased reports whether the message is hidden from both participants and therefore logically gone.
func (m Message) Erased() bool {
	return m.DeletedForSenderAt.Valid && m.DeletedForReceiverAt.Valid
}

// DeleteScope is the reach of a deletion request.
type DeleteScope string

const (
	// ScopeSelf hides the message from the requester only; the other participant still sees it.
	ScopeSelf DeleteScope = "self"
	// ScopeEveryone erases the message for both participants; only the original sender may request it.
	ScopeEveryone DeleteScope = "everyone"
)

// ParseDeleteScope maps a raw query value to a DeleteScope; empty defaults to ScopeSelf.
func ParseDeleteScope(s string) (DeleteScope, error) {
	switch DeleteScope(core.CleanString(s, true /* lower */)) {
	case "", ScopeSelf:
		return ScopeSelf, nil
	case ScopeEveryone:
		return ScopeEveryone, nil
	}
	return "", core.NewValidationError(ErrInvalidScope, core.FieldError{Field: "scope", Error: ErrInvalidScope.Error()})
}

// NewMessage contains information needed to send a new Message.
type NewMessage struct {
	ReceiverID string `json:"receiver_id" validate:"required"`
	Subject    string `json:"subject" validate:"omitempty,max=255"`
	Content    string `json:"content" validate:"required"`
	StudentID  string `json:"student_id" validate:"omitempty"`
}

func (nm *NewMessage) Validate(senderID string, validate *validator.Validate) error {
	nm.ReceiverID = core.CleanString(nm.ReceiverID)
	nm.Subject = core.CleanString(nm.Subject)
	nm.Content = core.CleanString(nm.Content)
	nm.StudentID = core.CleanString(nm.StudentID)

	if err := validate.Struct(nm); err != nil {
		return err
	}
	if nm.ReceiverID == senderID {
		return core.NewValidationError(ErrSelfMessage, core.FieldError{Field: "receiver_id", Error: ErrSelfMessage.Error()})
	}
	return nil
}

// Partner is the minimal directory info about the other participant of a Conversation.
type Partner struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// PartnerLookup resolves directory info for a partner ID during aggregation.
// A failed lookup must return (Partner{ID: id}, false); the conversation is kept either way.
type PartnerLookup func(id string) (Partner, bool)

// Conversation is the derived, non-persisted grouping of all visible messages
// between the viewing user and one partner. It is rebuilt from scratch on
// every aggregation pass; nothing in it is incrementally maintained.
type Conversation struct {
	PartnerID   string    `json:"partner_id"`
	PartnerName string    `json:"partner_name"`
	PartnerRole string    `json:"partner_role"`
	Messages    []Message `json:"messages"` // ascending by CreatedAt
	UnreadCount int       `json:"unread_count"`
	LastMessage Message   `json:"last_message"`
}
