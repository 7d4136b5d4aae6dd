package main

import (
	"context"
	"time"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/user"
)

// addUser updates or creates a user.User
func (cli *commandLine) addUser(uname, email, name, pwd string, isAdmin bool) error {
	var usr user.User
	var err error
	var found bool
	ctx := context.Background()
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)

	if usr, err = cli.usrRepo.GetUser(ctx, user.GetFilter{UsernameOrEmail: uname}); err != nil {
		if err != user.ErrNotFound {
			return err
		}
		now := time.Now().UTC()
		usr = user.User{
			Username:  uname,
			Email:     email,
			CreatedAt: now,
			UpdatedAt: now,
		}
	} else {
		found = true
	}
	if name != "" {
		usr.Name = name
	}
	if isAdmin {
		usr.Roles = user.AllRoles
	}
	isActive := true
	usr.IsActive = &isActive
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}
	if found {
		_, err = cli.usrRepo.UpdateUser(ctx, usr)
	} else {
		_, err = cli.usrRepo.CreateUser(ctx, usr)
	}
	return err
}
