package chatbot

import (
	"context"

	"github.com/chabi-bot/chabi/messenger"
)

// Echo answers every text message with the text itself.
type Echo struct{}

func (Echo) Analyze(_ context.Context, sender, text string) (*Analysis, error) {
	return &Analysis{Sender: sender, Text: text, Speech: text}, nil
}

func (Echo) HandleIncomplete(context.Context, *Analysis) (bool, *messenger.Message) {
	return false, nil
}

func (Echo) HandleUnknown(context.Context, *Analysis) (bool, *messenger.Message) {
	return false, nil
}

func (Echo) Process(_ context.Context, a *Analysis) (*messenger.Message, error) {
	return messenger.TextMessage(a.Speech), nil
}
