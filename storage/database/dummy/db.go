package dummydb

import (
	"sync"

	"github.com/trezcool/shule/core/messaging"
	"github.com/trezcool/shule/core/user"
)

type (
	DB struct {
		user    *userTable
		message *messageTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	messageTable struct {
		sync.RWMutex
		table map[string]*messaging.Message
	}
)

func Open() (*DB, error) {
	db := &DB{
		user:    &userTable{table: make(map[string]*user.User)},
		message: &messageTable{table: make(map[string]*messaging.Message)},
	}
	return db, nil
}
