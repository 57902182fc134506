package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/launcher-accounts/accountd/internal/account"
	"github.com/launcher-accounts/accountd/internal/config"
	log "github.com/sirupsen/logrus"
)

// LoginOptions contains options for the interactive sign-in.
type LoginOptions struct {
	// NoBrowser forces the terminal surface.
	NoBrowser bool

	In  io.Reader
	Out io.Writer
}

func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func reportError(action string, err error) {
	if authErr, ok := errors.AsType[*account.AuthError](err); ok {
		log.WithError(authErr.Cause).Debugf("%s failed", action)
		log.Error(account.UserFriendlyMessage(authErr))
		return
	}
	fmt.Printf("%s failed: %v\n", action, err)
}

// DoLogin runs an interactive sign-in and stores the resulting account.
func DoLogin(cfg *config.Config, options *LoginOptions) {
	if options == nil {
		options = &LoginOptions{}
	}
	ctx, cancel := commandContext()
	defer cancel()

	host := newInteractiveHost(cfg, options.NoBrowser, options.In, options.Out)
	rt, err := newAccountManager(ctx, cfg, host)
	if err != nil {
		reportError("Sign-in", err)
		return
	}
	defer rt.Close()

	cred, err := rt.manager.Login(ctx)
	if err != nil {
		reportError("Sign-in", err)
		return
	}
	if cred == nil {
		fmt.Println("Sign-in cancelled.")
		return
	}
	fmt.Printf("Signed in as %s (%s)\n", cred.Username, cred.ID)
}

// DoOfflineLogin creates a local account and makes it the default.
func DoOfflineLogin(cfg *config.Config, username string) {
	ctx, cancel := commandContext()
	defer cancel()

	rt, err := newAccountManager(ctx, cfg, nil)
	if err != nil {
		reportError("Offline login", err)
		return
	}
	defer rt.Close()

	cred, err := rt.manager.OfflineLogin(ctx, username)
	if err != nil {
		reportError("Offline login", err)
		return
	}
	fmt.Printf("Created offline account %s (%s)\n", cred.Username, cred.ID)
}

// DoListUsers prints every stored account; the default is marked with '*'.
func DoListUsers(cfg *config.Config) {
	ctx, cancel := commandContext()
	defer cancel()

	rt, err := newAccountManager(ctx, cfg, nil)
	if err != nil {
		reportError("List", err)
		return
	}
	defer rt.Close()

	users := rt.manager.ListUsers(ctx)
	if len(users) == 0 {
		fmt.Println("No accounts.")
		return
	}
	defaultID := rt.manager.GetDefaultUser(ctx)
	for _, cred := range users {
		fmt.Println(describeUser(cred, defaultID))
	}
}

// DoRemoveUser deletes an account.
func DoRemoveUser(cfg *config.Config, id string) {
	ctx, cancel := commandContext()
	defer cancel()

	rt, err := newAccountManager(ctx, cfg, nil)
	if err != nil {
		reportError("Remove", err)
		return
	}
	defer rt.Close()

	if err = rt.manager.RemoveUser(ctx, id); err != nil {
		reportError("Remove", err)
		return
	}
	fmt.Printf("Removed %s\n", id)
}

// DoSetDefaultUser selects the default account.
func DoSetDefaultUser(cfg *config.Config, id string) {
	ctx, cancel := commandContext()
	defer cancel()

	rt, err := newAccountManager(ctx, cfg, nil)
	if err != nil {
		reportError("Set default", err)
		return
	}
	defer rt.Close()

	if err = rt.manager.SetDefaultUser(ctx, id); err != nil {
		reportError("Set default", err)
		return
	}
	fmt.Printf("Default account set to %s\n", id)
}

// DoAccountType prints the type of the current session.
func DoAccountType(cfg *config.Config) {
	ctx, cancel := commandContext()
	defer cancel()

	rt, err := newAccountManager(ctx, cfg, nil)
	if err != nil {
		reportError("Account type", err)
		return
	}
	defer rt.Close()

	fmt.Println(rt.manager.AccountType(ctx).String())
}
