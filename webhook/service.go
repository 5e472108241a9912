// Package webhook serves the Facebook Messenger callback endpoints.
package webhook

import (
	"context"
	"net/http"
	"time"

	gateway "github.com/chabi-bot/chabi/apigateway"
	"github.com/chabi-bot/chabi/apperr"
	"github.com/chabi-bot/chabi/chatbot"
	"github.com/chabi-bot/chabi/messenger"
	"github.com/chabi-bot/chabi/store"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Sender is the part of the Graph API client the webhook needs.
type Sender interface {
	Send(ctx context.Context, recipientID string, msg *messenger.Message) error
	SendAction(ctx context.Context, recipientID, action string) error
}

// Service dispatches webhook events to the chatbot and the event handler and
// sends their replies back to the sender.
type Service struct {
	VerifyToken string
	Sender      Sender
	Bot         chatbot.Chatbot
	Events      chatbot.EventHandler
	// Seen, when set, drops messages whose mid was already processed.
	Seen    store.Seen
	Metrics *gateway.EventMetrics
	Logger  *logrus.Logger
}

// Reply is one answer produced while handling a callback.
type Reply struct {
	Recipient messenger.User    `json:"recipient"`
	Message   *messenger.Message `json:"message"`
}

const (
	resultHandled = "handled"
	resultIgnored = "ignored"
	resultFailed  = "failed"
)

// Verify answers the subscription handshake. Anything that is not a handshake gets OK.
func (s *Service) Verify(c *gin.Context) {
	if c.Query("hub.mode") == "subscribe" && c.Query("hub.challenge") != "" {
		if c.Query("hub.verify_token") != s.VerifyToken {
			s.logger().WithField("ip", c.ClientIP()).Warn("verify token mismatch")
			c.String(apperr.Status(apperr.ErrVerifyToken), apperr.ErrVerifyToken.Message)
			return
		}
		c.String(http.StatusOK, c.Query("hub.challenge"))
		return
	}
	c.String(http.StatusOK, "OK")
}

// Receive handles a callback. Events are processed in order; a failing event
// is logged and does not fail the callback, so Facebook does not redeliver it.
func (s *Service) Receive(c *gin.Context) {
	var cb messenger.Callback
	if err := c.ShouldBindJSON(&cb); err != nil {
		appErr := apperr.Wrap(err, apperr.ErrMalformedPayload, "")
		_ = c.Error(appErr)
		c.JSON(apperr.Status(appErr), apperr.Payload(appErr))
		return
	}

	replies := []Reply{}
	if cb.Object != messenger.ObjectPage {
		s.logger().WithField("object", cb.Object).Debug("ignoring non page callback")
		c.JSON(http.StatusOK, gin.H{"replies": replies})
		return
	}

	ctx := c.Request.Context()
	var kinds []string
	for _, entry := range cb.Entry {
		for _, ev := range entry.Messaging {
			kinds = append(kinds, ev.Kind())
			msg := s.handle(ctx, ev)
			if msg == nil {
				continue
			}
			err := s.Sender.Send(ctx, ev.Sender.ID, msg)
			s.Metrics.ObserveReply(err)
			if err != nil {
				s.logger().WithError(err).WithField("sender", ev.Sender.ID).Error("unable to send reply")
			}
			replies = append(replies, Reply{Recipient: ev.Sender, Message: msg})
		}
	}
	gateway.MarkEvents(c, kinds)
	c.JSON(http.StatusOK, gin.H{"replies": replies})
}

func (s *Service) handle(ctx context.Context, ev messenger.Messaging) *messenger.Message {
	start := time.Now()
	kind := ev.Kind()
	msg, result, err := s.Dispatch(ctx, ev)
	if err != nil {
		result = resultFailed
		s.logger().WithError(err).WithFields(logrus.Fields{
			"sender": ev.Sender.ID,
			"kind":   kind,
		}).Error("unable to handle event")
		msg = nil
	}
	s.Metrics.ObserveEvent(kind, result, time.Since(start))
	return msg
}

// Dispatch routes a single event and returns the reply to send, if any.
func (s *Service) Dispatch(ctx context.Context, ev messenger.Messaging) (*messenger.Message, string, error) {
	log := s.logger().WithFields(logrus.Fields{"sender": ev.Sender.ID, "kind": ev.Kind()})
	log.Debug("webhook event")

	switch {
	case ev.Message != nil:
		m := ev.Message
		if m.IsEcho {
			return nil, resultIgnored, nil
		}
		if s.Seen != nil && m.Mid != "" {
			dup, err := s.Seen.MarkSeen(ctx, m.Mid)
			if err != nil {
				log.WithError(err).Warn("dedup lookup failed")
			} else if dup {
				log.WithField("mid", m.Mid).Info("duplicate message")
				return nil, resultIgnored, nil
			}
		}
		s.typing(ctx, ev.Sender.ID)
		if m.QuickReply != nil && m.QuickReply.Payload != "" {
			msg, err := s.events().HandlePostback(ctx, ev.Sender.ID, messenger.Postback{Title: m.Text, Payload: m.QuickReply.Payload})
			return msg, resultHandled, err
		}
		if m.Text == "" {
			return messenger.AskEnterText(), resultHandled, nil
		}
		start := time.Now()
		msg, err := chatbot.Reply(ctx, s.bot(), ev.Sender.ID, m.Text)
		log.WithField("elapsed", time.Since(start).String()).Debug("message analyzed")
		return msg, resultHandled, err

	case ev.Postback != nil:
		s.typing(ctx, ev.Sender.ID)
		msg, err := s.events().HandlePostback(ctx, ev.Sender.ID, *ev.Postback)
		return msg, resultHandled, err

	case ev.AccountLinking != nil:
		switch ev.AccountLinking.Status {
		case messenger.StatusLinked:
			s.typing(ctx, ev.Sender.ID)
			msg, err := s.events().HandleLogin(ctx, ev.Sender.ID, ev.AccountLinking.AuthorizationCode)
			return msg, resultHandled, err
		case messenger.StatusUnlinked:
			s.typing(ctx, ev.Sender.ID)
			msg, err := s.events().HandleLogout(ctx, ev.Sender.ID)
			return msg, resultHandled, err
		}
		log.WithField("status", ev.AccountLinking.Status).Warn("unknown account linking status")
		return nil, resultIgnored, nil

	case ev.Delivery != nil:
		s.events().HandleDelivery(ctx, ev.Sender.ID, *ev.Delivery)
		return nil, resultHandled, nil

	case ev.Optin != nil:
		s.events().HandleOptin(ctx, ev.Sender.ID, *ev.Optin)
		return nil, resultHandled, nil

	case ev.Read != nil:
		s.events().HandleRead(ctx, ev.Sender.ID, *ev.Read)
		return nil, resultHandled, nil
	}

	log.Warn("unsupported webhook event")
	return nil, resultIgnored, nil
}

func (s *Service) typing(ctx context.Context, recipientID string) {
	if err := s.Sender.SendAction(ctx, recipientID, messenger.TypingOn); err != nil {
		s.logger().WithError(err).WithField("sender", recipientID).Warn("unable to send typing indicator")
	}
}

func (s *Service) bot() chatbot.Chatbot {
	if s.Bot == nil {
		return chatbot.Echo{}
	}
	return s.Bot
}

func (s *Service) events() chatbot.EventHandler {
	if s.Events == nil {
		return &chatbot.Events{Logger: s.logger()}
	}
	return s.Events
}

func (s *Service) logger() *logrus.Logger {
	if s.Logger == nil {
		return logrus.StandardLogger()
	}
	return s.Logger
}

// RegisterRoutes mounts the verification and callback endpoints. Callbacks are
// signature checked when appSecret is set.
func (s *Service) RegisterRoutes(route *gin.Engine, appSecret string) {
	route.GET("/", s.Verify)
	route.GET("/facebook", s.Verify)
	route.POST("/facebook", gateway.VerifySignature(appSecret), s.Metrics.Instrumentation(), s.Receive)
}
