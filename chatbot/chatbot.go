// Package chatbot defines the callbacks the webhook dispatches Messenger events
// to, together with the stock implementations wired by the server.
package chatbot

import (
	"context"

	"github.com/chabi-bot/chabi/messenger"
)

// Analysis is the outcome of running a text message through a Chatbot.
type Analysis struct {
	Sender     string
	Text       string
	Action     string
	Incomplete bool
	Unknown    bool
	Speech     string
	// Facebook is a ready-made Messenger message returned by the agent, if any.
	Facebook []byte
}

// Chatbot analyzes text messages and turns the analysis into a reply.
type Chatbot interface {
	Analyze(ctx context.Context, sender, text string) (*Analysis, error)
	HandleIncomplete(ctx context.Context, a *Analysis) (bool, *messenger.Message)
	HandleUnknown(ctx context.Context, a *Analysis) (bool, *messenger.Message)
	Process(ctx context.Context, a *Analysis) (*messenger.Message, error)
}

// EventHandler receives every non-text Messenger event.
type EventHandler interface {
	HandlePostback(ctx context.Context, sender string, pb messenger.Postback) (*messenger.Message, error)
	HandleLogin(ctx context.Context, sender, code string) (*messenger.Message, error)
	HandleLogout(ctx context.Context, sender string) (*messenger.Message, error)
	HandleDelivery(ctx context.Context, sender string, d messenger.Delivery)
	HandleOptin(ctx context.Context, sender string, o messenger.Optin)
	HandleRead(ctx context.Context, sender string, r messenger.Read)
}

// Reply runs text through bot: an incomplete or unknown analysis short-circuits
// processing with the bot's own answer.
func Reply(ctx context.Context, bot Chatbot, sender, text string) (*messenger.Message, error) {
	a, err := bot.Analyze(ctx, sender, text)
	if err != nil {
		return nil, err
	}
	if ok, msg := bot.HandleIncomplete(ctx, a); ok {
		return msg, nil
	}
	if ok, msg := bot.HandleUnknown(ctx, a); ok {
		return msg, nil
	}
	return bot.Process(ctx, a)
}
