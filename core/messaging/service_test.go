package messaging_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/messaging"
	"github.com/trezcool/shule/core/user"
	emailsvc "github.com/trezcool/shule/services/email"
	dummydb "github.com/trezcool/shule/storage/database/dummy"
	testutil "github.com/trezcool/shule/tests"
)

type testEnv struct {
	repo    messaging.Repository
	usrRepo user.Repository
	svc     messaging.ServiceInterface

	alice, bob, carl user.User
}

func setup(t *testing.T) *testEnv {
	t.Helper()

	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("dummydb.Open() failed: %v", err)
	}
	repo := dummydb.NewMessageRepository(db)
	usrRepo := dummydb.NewUserRepository(db)
	svc := messaging.NewService(repo, usrRepo, emailsvc.NewConsoleServiceMock(), core.NopLogger{})

	return &testEnv{
		repo:    repo,
		usrRepo: usrRepo,
		svc:     svc,
		alice:   testutil.CreateUser(t, usrRepo, "Alice", "alice", "alice@test.cd", "", []string{user.RoleTeacher}, true),
		bob:     testutil.CreateUser(t, usrRepo, "Bob", "bob", "bob@test.cd", "", []string{user.RoleStudent}, true),
		carl:    testutil.CreateUser(t, usrRepo, "Carl", "carl", "carl@test.cd", "", []string{user.RoleStudent}, true),
	}
}

func (env *testEnv) getMessage(t *testing.T, id string) messaging.Message {
	t.Helper()
	msg, err := env.repo.GetMessage(context.Background(), id)
	if err != nil {
		t.Fatalf("GetMessage() failed: %v", err)
	}
	return msg
}

func Test_service_Send(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	t.Run("ok", func(t *testing.T) {
		sent := len(emailsvc.SentMessages)

		msg, err := env.svc.Send(ctx, env.alice.ID, messaging.NewMessage{
			ReceiverID: env.bob.ID,
			Subject:    "Homework",
			Content:    "Please review chapter 3.",
		})
		if err != nil {
			t.Fatalf("Send() failed: %v", err)
		}
		if msg.ID == "" {
			t.Error("Send() did not assign an ID")
		}
		if msg.SenderID != env.alice.ID || msg.ReceiverID != env.bob.ID {
			t.Errorf("participants = %s -> %s", msg.SenderID, msg.ReceiverID)
		}
		if msg.ReadAt.Valid {
			t.Error("new message must start unread")
		}

		// receiver is notified
		if len(emailsvc.SentMessages) != sent+1 {
			t.Fatalf("sent emails = %d; want %d", len(emailsvc.SentMessages), sent+1)
		}
		mail := emailsvc.SentMessages[len(emailsvc.SentMessages)-1]
		if mail.To[0].Address != env.bob.Email {
			t.Errorf("email to = %s; want %s", mail.To[0].Address, env.bob.Email)
		}
		if !strings.Contains(mail.Subject, "Alice") {
			t.Errorf("email subject = %q; want sender name in it", mail.Subject)
		}
	})

	t.Run("self send rejected", func(t *testing.T) {
		_, err := env.svc.Send(ctx, env.alice.ID, messaging.NewMessage{ReceiverID: env.alice.ID, Content: "hi me"})
		var vErr *core.ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("Send() error = %v; want ValidationError", err)
		}
	})

	t.Run("unknown receiver rejected", func(t *testing.T) {
		_, err := env.svc.Send(ctx, env.alice.ID, messaging.NewMessage{ReceiverID: "nope", Content: "hi"})
		var vErr *core.ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("Send() error = %v; want ValidationError", err)
		}
	})
}

func Test_service_MarkRead(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	msg := testutil.CreateMessage(t, env.repo, env.alice.ID, env.bob.ID, "", "hello")

	t.Run("sender mark is a no-op", func(t *testing.T) {
		if err := env.svc.MarkRead(ctx, env.alice.ID, msg.ID); err != nil {
			t.Fatalf("MarkRead() failed: %v", err)
		}
		if env.getMessage(t, msg.ID).ReadAt.Valid {
			t.Error("sender must not set ReadAt")
		}
	})

	t.Run("receiver mark sets ReadAt once", func(t *testing.T) {
		if err := env.svc.MarkRead(ctx, env.bob.ID, msg.ID); err != nil {
			t.Fatalf("MarkRead() failed: %v", err)
		}
		first := env.getMessage(t, msg.ID).ReadAt
		if !first.Valid {
			t.Fatal("ReadAt not set")
		}

		time.Sleep(10 * time.Millisecond)
		if err := env.svc.MarkRead(ctx, env.bob.ID, msg.ID); err != nil {
			t.Fatalf("MarkRead() failed: %v", err)
		}
		if again := env.getMessage(t, msg.ID).ReadAt; !again.Time.Equal(first.Time) {
			t.Errorf("ReadAt moved from %v to %v; must be monotonic", first.Time, again.Time)
		}
	})

	t.Run("missing message is a no-op", func(t *testing.T) {
		if err := env.svc.MarkRead(ctx, env.bob.ID, "nope"); err != nil {
			t.Fatalf("MarkRead() failed: %v", err)
		}
	})
}

func Test_service_MarkConversationRead(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	now := time.Now().UTC()
	m1 := testutil.CreateMessage(t, env.repo, env.alice.ID, env.bob.ID, "", "one", now)
	m2 := testutil.CreateMessage(t, env.repo, env.alice.ID, env.bob.ID, "", "two", now.Add(time.Minute))
	sentByBob := testutil.CreateMessage(t, env.repo, env.bob.ID, env.alice.ID, "", "reply", now.Add(2*time.Minute))
	otherConv := testutil.CreateMessage(t, env.repo, env.carl.ID, env.bob.ID, "", "unrelated", now.Add(3*time.Minute))

	if err := env.svc.MarkConversationRead(ctx, env.bob.ID, env.alice.ID); err != nil {
		t.Fatalf("MarkConversationRead() failed: %v", err)
	}

	if !env.getMessage(t, m1.ID).ReadAt.Valid || !env.getMessage(t, m2.ID).ReadAt.Valid {
		t.Error("messages from partner not marked read")
	}
	if env.getMessage(t, sentByBob.ID).ReadAt.Valid {
		t.Error("own sent message must stay untouched")
	}
	if env.getMessage(t, otherConv.ID).ReadAt.Valid {
		t.Error("other conversation must stay untouched")
	}
}

func Test_service_DeleteMessage(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	t.Run("self scope hides for requester only", func(t *testing.T) {
		msg := testutil.CreateMessage(t, env.repo, env.alice.ID, env.bob.ID, "", "hello")

		if err := env.svc.DeleteMessage(ctx, env.bob.ID, msg.ID, messaging.ScopeSelf); err != nil {
			t.Fatalf("DeleteMessage() failed: %v", err)
		}
		got := env.getMessage(t, msg.ID)
		if got.VisibleTo(env.bob.ID) {
			t.Error("message still visible to requester")
		}
		if !got.VisibleTo(env.alice.ID) {
			t.Error("message hidden from the other participant")
		}
	})

	t.Run("everyone scope by sender erases both sides", func(t *testing.T) {
		msg := testutil.CreateMessage(t, env.repo, env.alice.ID, env.bob.ID, "", "oops")

		if err := env.svc.DeleteMessage(ctx, env.alice.ID, msg.ID, messaging.ScopeEveryone); err != nil {
			t.Fatalf("DeleteMessage() failed: %v", err)
		}
		got := env.getMessage(t, msg.ID)
		if !got.Erased() {
			t.Error("message not erased for both participants")
		}
	})

	t.Run("everyone scope by receiver is denied without mutation", func(t *testing.T) {
		msg := testutil.CreateMessage(t, env.repo, env.alice.ID, env.bob.ID, "", "keep me")

		err := env.svc.DeleteMessage(ctx, env.bob.ID, msg.ID, messaging.ScopeEveryone)
		if errors.Cause(err) != messaging.ErrPermissionDenied {
			t.Fatalf("DeleteMessage() error = %v; want ErrPermissionDenied", err)
		}
		got := env.getMessage(t, msg.ID)
		if !got.VisibleTo(env.alice.ID) || !got.VisibleTo(env.bob.ID) {
			t.Error("denied delete must not mutate the message")
		}
	})

	t.Run("non participant gets not found", func(t *testing.T) {
		msg := testutil.CreateMessage(t, env.repo, env.alice.ID, env.bob.ID, "", "private")

		err := env.svc.DeleteMessage(ctx, env.carl.ID, msg.ID, messaging.ScopeSelf)
		if errors.Cause(err) != messaging.ErrNotFound {
			t.Fatalf("DeleteMessage() error = %v; want ErrNotFound", err)
		}
	})

	t.Run("missing message counts as already deleted", func(t *testing.T) {
		if err := env.svc.DeleteMessage(ctx, env.alice.ID, "nope", messaging.ScopeSelf); err != nil {
			t.Fatalf("DeleteMessage() failed: %v", err)
		}
	})

	t.Run("repeated self delete is idempotent", func(t *testing.T) {
		msg := testutil.CreateMessage(t, env.repo, env.alice.ID, env.bob.ID, "", "again")

		if err := env.svc.DeleteMessage(ctx, env.bob.ID, msg.ID, messaging.ScopeSelf); err != nil {
			t.Fatalf("DeleteMessage() failed: %v", err)
		}
		first := env.getMessage(t, msg.ID).DeletedForReceiverAt

		time.Sleep(10 * time.Millisecond)
		if err := env.svc.DeleteMessage(ctx, env.bob.ID, msg.ID, messaging.ScopeSelf); err != nil {
			t.Fatalf("DeleteMessage() failed: %v", err)
		}
		if again := env.getMessage(t, msg.ID).DeletedForReceiverAt; !again.Time.Equal(first.Time) {
			t.Errorf("deletion stamp moved from %v to %v; must be monotonic", first.Time, again.Time)
		}
	})
}

func Test_service_DeleteConversation(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	now := time.Now().UTC()

	t.Run("everyone scope only erases own messages", func(t *testing.T) {
		mine := testutil.CreateMessage(t, env.repo, env.alice.ID, env.bob.ID, "", "mine", now)
		theirs := testutil.CreateMessage(t, env.repo, env.bob.ID, env.alice.ID, "", "theirs", now.Add(time.Minute))
		unrelated := testutil.CreateMessage(t, env.repo, env.carl.ID, env.alice.ID, "", "unrelated", now.Add(2*time.Minute))

		if err := env.svc.DeleteConversation(ctx, env.alice.ID, env.bob.ID, messaging.ScopeEveryone); err != nil {
			t.Fatalf("DeleteConversation() failed: %v", err)
		}

		if !env.getMessage(t, mine.ID).Erased() {
			t.Error("own message not erased for everyone")
		}
		got := env.getMessage(t, theirs.ID)
		if got.VisibleTo(env.alice.ID) {
			t.Error("partner's message still visible to requester")
		}
		if !got.VisibleTo(env.bob.ID) {
			t.Error("partner's message must stay visible to its sender")
		}
		if !env.getMessage(t, unrelated.ID).VisibleTo(env.alice.ID) {
			t.Error("other conversation must stay untouched")
		}
	})

	t.Run("self scope hides whole conversation for requester", func(t *testing.T) {
		env := setup(t)
		m1 := testutil.CreateMessage(t, env.repo, env.alice.ID, env.bob.ID, "", "one", now)
		m2 := testutil.CreateMessage(t, env.repo, env.bob.ID, env.alice.ID, "", "two", now.Add(time.Minute))

		if err := env.svc.DeleteConversation(ctx, env.alice.ID, env.bob.ID, messaging.ScopeSelf); err != nil {
			t.Fatalf("DeleteConversation() failed: %v", err)
		}

		for _, id := range []string{m1.ID, m2.ID} {
			got := env.getMessage(t, id)
			if got.VisibleTo(env.alice.ID) {
				t.Errorf("message %s still visible to requester", id)
			}
			if !got.VisibleTo(env.bob.ID) {
				t.Errorf("message %s hidden from partner", id)
			}
		}
	})
}

func Test_service_Conversations(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	now := time.Now().UTC()
	testutil.CreateMessage(t, env.repo, env.alice.ID, env.bob.ID, "", "hi bob", now)
	testutil.CreateMessage(t, env.repo, env.carl.ID, env.alice.ID, "", "hi alice", now.Add(time.Minute))

	convs, err := env.svc.Conversations(ctx, env.alice.ID)
	if err != nil {
		t.Fatalf("Conversations() failed: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("len(convs) = %d; want 2", len(convs))
	}
	if convs[0].PartnerID != env.carl.ID || convs[1].PartnerID != env.bob.ID {
		t.Errorf("order = %s, %s; want most recent first", convs[0].PartnerID, convs[1].PartnerID)
	}
	if convs[0].PartnerName != "Carl" {
		t.Errorf("PartnerName = %q; want Carl", convs[0].PartnerName)
	}
	if convs[0].PartnerRole != user.RoleStudent {
		t.Errorf("PartnerRole = %q; want %q", convs[0].PartnerRole, user.RoleStudent)
	}
	if convs[0].UnreadCount != 1 {
		t.Errorf("UnreadCount = %d; want 1", convs[0].UnreadCount)
	}
}

func Test_service_ListInvolving(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	now := time.Now().UTC()
	m1 := testutil.CreateMessage(t, env.repo, env.alice.ID, env.bob.ID, "", "one", now)
	m2 := testutil.CreateMessage(t, env.repo, env.bob.ID, env.alice.ID, "", "two", now.Add(time.Minute))
	testutil.CreateMessage(t, env.repo, env.bob.ID, env.carl.ID, "", "not alice's", now.Add(2*time.Minute))

	if err := env.svc.DeleteMessage(ctx, env.alice.ID, m2.ID, messaging.ScopeSelf); err != nil {
		t.Fatalf("DeleteMessage() failed: %v", err)
	}

	msgs, err := env.svc.ListInvolving(ctx, env.alice.ID)
	if err != nil {
		t.Fatalf("ListInvolving() failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != m1.ID {
		t.Fatalf("msgs = %+v; want only %s", msgs, m1.ID)
	}
}
