package chatbot

import (
	"context"

	"github.com/chabi-bot/chabi/messenger"
	"github.com/sirupsen/logrus"
)

const (
	msgLoggedIn        = "You are successfully logged in."
	msgAlreadyLoggedIn = "You are already logged in."
	msgLoggedOut       = "You are successfully logged out."
	msgNotLoggedIn     = "You are not logged in."
	msgLoginFailed     = "Login failed, please try again."
)

// LinkStore persists the linked flag of each sender.
type LinkStore interface {
	Link(ctx context.Context, senderID, username, code string) (alreadyLinked bool, err error)
	Unlink(ctx context.Context, senderID string) (wasLinked bool, err error)
}

// AccountUnlinker reverts an account link on the Facebook side.
type AccountUnlinker interface {
	UnlinkAccount(ctx context.Context, psid string) error
}

// Linker turns account_linking events into link state changes.
type Linker struct {
	Links LinkStore
	// Codes, when set, rejects authorization codes it did not issue.
	Codes *AuthCodes
	// Unlinker, when set, undoes the Facebook side of a rejected login.
	Unlinker AccountUnlinker
	Logger   *logrus.Logger
}

func (l *Linker) Login(ctx context.Context, sender, code string) (*messenger.Message, error) {
	username := ""
	if l.Codes != nil {
		claims, err := l.Codes.Verify(code)
		if err != nil {
			l.logger().WithError(err).WithField("sender", sender).Warn("rejected authorization code")
			if l.Unlinker != nil {
				if uerr := l.Unlinker.UnlinkAccount(ctx, sender); uerr != nil {
					l.logger().WithError(uerr).WithField("sender", sender).Error("unable to revert account link")
				}
			}
			return messenger.TextMessage(msgLoginFailed), nil
		}
		username = claims.Username
	}

	already, err := l.Links.Link(ctx, sender, username, code)
	if err != nil {
		return nil, err
	}
	if already {
		return messenger.TextMessage(msgAlreadyLoggedIn), nil
	}
	l.logger().WithFields(logrus.Fields{"sender": sender, "username": username}).Info("account linked")
	return messenger.TextMessage(msgLoggedIn), nil
}

func (l *Linker) Logout(ctx context.Context, sender string) (*messenger.Message, error) {
	was, err := l.Links.Unlink(ctx, sender)
	if err != nil {
		return nil, err
	}
	if !was {
		return messenger.TextMessage(msgNotLoggedIn), nil
	}
	l.logger().WithField("sender", sender).Info("account unlinked")
	return messenger.TextMessage(msgLoggedOut), nil
}

func (l *Linker) logger() *logrus.Logger {
	if l.Logger == nil {
		return logrus.StandardLogger()
	}
	return l.Logger
}
