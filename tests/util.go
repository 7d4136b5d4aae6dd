package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core/messaging"
	"github.com/trezcool/shule/core/user"
)

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  &isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func CreateMessage(
	t *testing.T,
	repo messaging.Repository,
	senderID, receiverID, subject, content string,
	createdAt ...time.Time,
) messaging.Message {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	msg := messaging.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Subject:    null.NewString(subject, subject != ""),
		Content:    content,
		CreatedAt:  tstamp,
	}
	msg, err := repo.CreateMessage(context.Background(), msg)
	if err != nil {
		t.Fatalf("CreateMessage() failed: %v", err)
	}
	return msg
}
