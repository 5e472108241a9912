package messenger

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chabi-bot/chabi/apperr"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

// DefaultGraphURL is the Graph API version the bridge was written against.
const DefaultGraphURL = "https://graph.facebook.com/v2.6"

const (
	messagesEndpoint = "messages"
	unlinkEndpoint   = "unlink_accounts"
)

// Client sends messages on behalf of a page through the Graph API.
type Client struct {
	GraphURL    string
	AccessToken string
	HTTPClient  *http.Client
	Logger      *logrus.Logger
}

func NewClient(graphURL, accessToken string, logger *logrus.Logger) *Client {
	if graphURL == "" {
		graphURL = DefaultGraphURL
	}
	if logger == nil {
		logger = logrus.New()
	}
	initGraphMetrics()
	return &Client{
		GraphURL:    strings.TrimRight(graphURL, "/"),
		AccessToken: accessToken,
		HTTPClient:  &http.Client{Timeout: 10 * time.Second},
		Logger:      logger,
	}
}

// Send delivers msg to the recipient.
func (c *Client) Send(ctx context.Context, recipientID string, msg *Message) error {
	if msg == nil {
		return nil
	}
	return c.post(ctx, messagesEndpoint, SendRequest{
		Recipient:     User{ID: recipientID},
		MessagingType: "RESPONSE",
		Message:       msg,
	})
}

// SendAction sends a sender action such as TypingOn.
func (c *Client) SendAction(ctx context.Context, recipientID, action string) error {
	return c.post(ctx, messagesEndpoint, SendRequest{
		Recipient:    User{ID: recipientID},
		SenderAction: action,
	})
}

// UnlinkAccount asks Facebook to unlink the page-scoped user from the external account.
func (c *Client) UnlinkAccount(ctx context.Context, psid string) error {
	return c.post(ctx, unlinkEndpoint, map[string]string{"psid": psid})
}

// post is not retried; a non-200 answer is logged and returned.
func (c *Client) post(ctx context.Context, endpoint string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode graph request: %w", err)
	}

	params := url.Values{}
	params.Set("access_token", c.AccessToken)
	target := c.GraphURL + "/me/" + endpoint + "?" + params.Encode()

	c.Logger.WithFields(logrus.Fields{
		"endpoint": endpoint,
		"payload":  string(payload),
	}).Debug("graph api request")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build graph request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		recordGraphMetrics(endpoint, 0, err, len(payload), 0, time.Since(start))
		c.Logger.WithError(err).WithField("endpoint", endpoint).Error("graph api unreachable")
		return apperr.Wrap(fmt.Errorf("send to graph api: %w", err), apperr.ErrGraph, "")
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		err = apperr.Wrap(fmt.Errorf("graph api %s: status %d: %s", endpoint, resp.StatusCode, string(respBody)), apperr.ErrGraph, "")
		recordGraphMetrics(endpoint, resp.StatusCode, err, len(payload), len(respBody), time.Since(start))
		c.Logger.WithFields(logrus.Fields{
			"endpoint": endpoint,
			"status":   resp.StatusCode,
			"body":     string(respBody),
		}).Error("graph api rejected request")
		return err
	}
	recordGraphMetrics(endpoint, resp.StatusCode, readErr, len(payload), len(respBody), time.Since(start))
	if readErr != nil {
		return fmt.Errorf("read graph response: %w", readErr)
	}

	c.Logger.WithField("endpoint", endpoint).Debugf("graph api response: %s", string(respBody))
	return nil
}
