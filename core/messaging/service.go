package messaging

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/user"
)

var (
	// errors
	ErrNotFound         = errors.New("message not found")
	ErrPermissionDenied = errors.New("only the sender may delete a message for everyone")
	ErrSelfMessage      = errors.New("sender and receiver must be different users")
	ErrInvalidScope     = errors.New("scope must be one of: self, everyone")
)

type (
	Repository interface {
		CreateMessage(ctx context.Context, msg Message) (Message, error)
		GetMessage(ctx context.Context, id string) (Message, error)
		// QueryMessagesInvolving returns every message sent or received by userID,
		// whatever its visibility stamps, ordered by (created_at, id) ascending.
		QueryMessagesInvolving(ctx context.Context, userID string) ([]Message, error)
		// SetMessageRead stamps the message read at `at` unless it already is; monotonic.
		SetMessageRead(ctx context.Context, id string, at time.Time) error
		// SetMessageDeleted stamps the requested deletion flags at `at`; already-set
		// stamps are left untouched (monotonic).
		SetMessageDeleted(ctx context.Context, id string, forSender, forReceiver bool, at time.Time) error
	}

	ServiceInterface interface {
		Send(ctx context.Context, senderID string, nm NewMessage) (Message, error)
		ListInvolving(ctx context.Context, viewerID string) ([]Message, error)
		Conversations(ctx context.Context, viewerID string) ([]Conversation, error)
		MarkRead(ctx context.Context, viewerID, messageID string) error
		MarkConversationRead(ctx context.Context, viewerID, partnerID string) error
		DeleteMessage(ctx context.Context, viewerID, messageID string, scope DeleteScope) error
		DeleteConversation(ctx context.Context, viewerID, partnerID string, scope DeleteScope) error
	}

	service struct {
		repo    Repository
		usrRepo user.Repository
		mailSvc core.EmailService
		logger  core.Logger
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(repo Repository, usrRepo user.Repository, mailSvc core.EmailService, logger core.Logger) *service {
	return &service{
		repo:    repo,
		usrRepo: usrRepo,
		mailSvc: mailSvc,
		logger:  logger,
	}
}

// Send creates a new message from senderID. The receiver must exist and differ
// from the sender; nm is assumed validated. The receiver is notified by email,
// a notification failure never fails the send.
func (svc *service) Send(ctx context.Context, senderID string, nm NewMessage) (Message, error) {
	if nm.ReceiverID == senderID {
		return Message{}, core.NewValidationError(ErrSelfMessage, core.FieldError{Field: "receiver_id", Error: ErrSelfMessage.Error()})
	}

	sender, err := svc.usrRepo.GetUser(ctx, user.GetFilter{ID: senderID})
	if err != nil {
		return Message{}, errors.Wrap(err, "finding sender")
	}
	receiver, err := svc.usrRepo.GetUser(ctx, user.GetFilter{ID: nm.ReceiverID})
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return Message{}, core.NewValidationError(err, core.FieldError{Field: "receiver_id", Error: err.Error()})
		}
		return Message{}, errors.Wrap(err, "finding receiver")
	}

	msg := Message{
		SenderID:   senderID,
		ReceiverID: receiver.ID,
		Subject:    null.NewString(nm.Subject, nm.Subject != ""),
		Content:    nm.Content,
		StudentID:  null.NewString(nm.StudentID, nm.StudentID != ""),
		CreatedAt:  time.Now().UTC(),
	}
	msg, err = svc.repo.CreateMessage(ctx, msg)
	if err != nil {
		return Message{}, errors.Wrap(err, "creating message")
	}

	svc.notify(sender, receiver, msg)
	return msg, nil
}

// ListInvolving returns the messages visible to viewerID, ordered by (created_at, id) ascending.
func (svc *service) ListInvolving(ctx context.Context, viewerID string) ([]Message, error) {
	msgs, err := svc.repo.QueryMessagesInvolving(ctx, viewerID)
	if err != nil {
		return nil, errors.Wrap(err, "querying messages")
	}
	visible := make([]Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.VisibleTo(viewerID) {
			visible = append(visible, msg)
		}
	}
	return visible, nil
}

// Conversations aggregates viewerID's visible messages into per-partner summaries.
func (svc *service) Conversations(ctx context.Context, viewerID string) ([]Conversation, error) {
	msgs, err := svc.repo.QueryMessagesInvolving(ctx, viewerID)
	if err != nil {
		return nil, errors.Wrap(err, "querying messages")
	}
	return BuildConversations(viewerID, msgs, svc.partnerLookup(ctx)), nil
}

// MarkRead stamps one message read by viewerID. It is a no-op when viewerID is
// not the receiver, when the message is already read, or when it no longer exists.
func (svc *service) MarkRead(ctx context.Context, viewerID, messageID string) error {
	msg, err := svc.repo.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return nil
		}
		return errors.Wrap(err, "finding message")
	}
	if !msg.UnreadBy(viewerID) {
		return nil
	}
	if err := svc.repo.SetMessageRead(ctx, msg.ID, time.Now().UTC()); err != nil {
		return errors.Wrap(err, "marking message read")
	}
	return nil
}

// MarkConversationRead stamps every unread message received from partnerID.
// Marks are independent: a failure on one message does not block the others,
// and failures are only logged since the next open self-corrects them.
func (svc *service) MarkConversationRead(ctx context.Context, viewerID, partnerID string) error {
	msgs, err := svc.repo.QueryMessagesInvolving(ctx, viewerID)
	if err != nil {
		return errors.Wrap(err, "querying messages")
	}

	now := time.Now().UTC()
	for _, msg := range msgs {
		if msg.PartnerID(viewerID) != partnerID || !msg.VisibleTo(viewerID) || !msg.UnreadBy(viewerID) {
			continue
		}
		if err := svc.repo.SetMessageRead(ctx, msg.ID, now); err != nil {
			svc.logger.Warn(fmt.Sprintf("marking message %s read: %v", msg.ID, err), err)
		}
	}
	return nil
}

// DeleteMessage applies the requested deletion scope to one message.
//
// ScopeSelf hides the message from viewerID only and is always allowed for a
// participant. ScopeEveryone erases the message for both sides and is allowed
// only when viewerID is the sender; a receiver attempt fails with
// ErrPermissionDenied and mutates nothing. A message that no longer exists
// counts as already deleted.
func (svc *service) DeleteMessage(ctx context.Context, viewerID, messageID string, scope DeleteScope) error {
	msg, err := svc.repo.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return nil // already gone
		}
		return errors.Wrap(err, "finding message")
	}
	if !msg.Involves(viewerID) {
		return ErrNotFound
	}
	return svc.delete(ctx, viewerID, msg, scope)
}

// DeleteConversation applies the message-level deletion rule across every
// message exchanged with partnerID. With ScopeEveryone only the messages
// viewerID actually sent are erased; the partner's messages are hidden for
// viewerID at most, never erased (you can only destroy what you authored).
// Partner-sent messages are skipped silently rather than failing the operation.
func (svc *service) DeleteConversation(ctx context.Context, viewerID, partnerID string, scope DeleteScope) error {
	msgs, err := svc.repo.QueryMessagesInvolving(ctx, viewerID)
	if err != nil {
		return errors.Wrap(err, "querying messages")
	}

	for _, msg := range msgs {
		if msg.PartnerID(viewerID) != partnerID {
			continue
		}
		msgScope := scope
		if scope == ScopeEveryone && msg.SenderID != viewerID {
			msgScope = ScopeSelf
		}
		if err := svc.delete(ctx, viewerID, msg, msgScope); err != nil {
			return errors.Wrapf(err, "deleting message %s", msg.ID)
		}
	}
	return nil
}

func (svc *service) delete(ctx context.Context, viewerID string, msg Message, scope DeleteScope) error {
	var forSender, forReceiver bool
	switch scope {
	case ScopeEveryone:
		if msg.SenderID != viewerID {
			return ErrPermissionDenied
		}
		forSender, forReceiver = true, true
	case ScopeSelf:
		forSender = msg.SenderID == viewerID
		forReceiver = msg.ReceiverID == viewerID
	default:
		return ErrInvalidScope
	}

	if err := svc.repo.SetMessageDeleted(ctx, msg.ID, forSender, forReceiver, time.Now().UTC()); err != nil {
		if errors.Cause(err) == ErrNotFound {
			return nil // already gone
		}
		return errors.Wrap(err, "stamping deletion")
	}
	return nil
}

func (svc *service) partnerLookup(ctx context.Context) PartnerLookup {
	cache := make(map[string]Partner)
	return func(id string) (Partner, bool) {
		if partner, ok := cache[id]; ok {
			return partner, partner.Name != ""
		}
		usr, err := svc.usrRepo.GetUser(ctx, user.GetFilter{ID: id})
		if err != nil {
			if errors.Cause(err) != user.ErrNotFound {
				svc.logger.Warn(fmt.Sprintf("looking up partner %s: %v", id, err), err)
			}
			cache[id] = Partner{ID: id}
			return cache[id], false
		}
		cache[id] = Partner{ID: usr.ID, Name: usr.Name, Role: usr.MaxRole()}
		return cache[id], true
	}
}

func (svc *service) notify(sender, receiver user.User, msg Message) {
	subject := fmt.Sprintf("New message from %s", sender.Name)
	if msg.Subject.Valid {
		subject += ": " + msg.Subject.String
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:      []mail.Address{{Name: receiver.Name, Address: receiver.Email}},
		Subject: subject,
		BodyStr: fmt.Sprintf(
			"%s wrote:\n\n%s\n\nReply at %s/messages",
			sender.Name, msg.Content, core.Conf.FrontendBaseURL,
		),
	})
}
