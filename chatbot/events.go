package chatbot

import (
	"context"
	"fmt"

	"github.com/chabi-bot/chabi/messenger"
	"github.com/sirupsen/logrus"
)

// Postback payloads answered with the account link and unlink templates.
const (
	PayloadLogin  = "LOGIN"
	PayloadLogout = "LOGOUT"
)

// LinkTemplate configures the log in and log out cards.
type LinkTemplate struct {
	LoginTitle  string
	LogoutTitle string
	ImageURL    string
	LoginURL    string
}

// Events is the stock EventHandler: postbacks are looked up in a payload
// table, account linking goes through the Linker and notifications are logged.
type Events struct {
	Postbacks map[string]string
	Linker    *Linker
	Template  LinkTemplate
	Logger    *logrus.Logger
}

func (e *Events) HandlePostback(_ context.Context, sender string, pb messenger.Postback) (*messenger.Message, error) {
	switch pb.Payload {
	case PayloadLogin:
		if e.Template.LoginURL != "" {
			return messenger.AccountLink(e.Template.LoginTitle, e.Template.ImageURL, e.Template.LoginURL)
		}
	case PayloadLogout:
		return messenger.AccountUnlink(e.Template.LogoutTitle, e.Template.ImageURL)
	}
	if text, ok := e.Postbacks[pb.Payload]; ok {
		return messenger.TextMessage(text), nil
	}
	e.logger().WithFields(logrus.Fields{"sender": sender, "payload": pb.Payload}).Warn("unknown postback")
	return messenger.TextMessage(fmt.Sprintf("Unknown postback payload '%s'", pb.Payload)), nil
}

func (e *Events) HandleLogin(ctx context.Context, sender, code string) (*messenger.Message, error) {
	if e.Linker == nil {
		return nil, nil
	}
	return e.Linker.Login(ctx, sender, code)
}

func (e *Events) HandleLogout(ctx context.Context, sender string) (*messenger.Message, error) {
	if e.Linker == nil {
		return nil, nil
	}
	return e.Linker.Logout(ctx, sender)
}

func (e *Events) HandleDelivery(_ context.Context, sender string, d messenger.Delivery) {
	e.logger().WithFields(logrus.Fields{
		"sender":    sender,
		"mids":      d.Mids,
		"watermark": d.Watermark,
	}).Debug("delivery confirmation")
}

func (e *Events) HandleOptin(_ context.Context, sender string, o messenger.Optin) {
	e.logger().WithFields(logrus.Fields{"sender": sender, "ref": o.Ref}).Info("optin")
}

func (e *Events) HandleRead(_ context.Context, sender string, r messenger.Read) {
	e.logger().WithFields(logrus.Fields{"sender": sender, "watermark": r.Watermark}).Debug("read receipt")
}

func (e *Events) logger() *logrus.Logger {
	if e.Logger == nil {
		return logrus.StandardLogger()
	}
	return e.Logger
}
