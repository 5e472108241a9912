package chatbot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chabi-bot/chabi/messenger"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

const (
	apiaiVersion  = "20150910"
	unknownAction = "input.unknown"
)

// APIAI analyzes messages with an API.AI compatible /query endpoint.
type APIAI struct {
	BaseURL     string
	AccessToken string
	Lang        string
	HTTPClient  *http.Client
	Logger      *logrus.Logger
}

func NewAPIAI(baseURL, accessToken, lang string, logger *logrus.Logger) *APIAI {
	if lang == "" {
		lang = "en"
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &APIAI{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		AccessToken: accessToken,
		Lang:        lang,
		HTTPClient:  &http.Client{Timeout: 10 * time.Second},
		Logger:      logger,
	}
}

type queryRequest struct {
	Query     string `json:"query"`
	Lang      string `json:"lang"`
	SessionID string `json:"sessionId"`
}

type queryResponse struct {
	Result struct {
		Action           string `json:"action"`
		ActionIncomplete bool   `json:"actionIncomplete"`
		Fulfillment      struct {
			Speech string `json:"speech"`
			Data   struct {
				Facebook json.RawMessage `json:"facebook"`
			} `json:"data"`
		} `json:"fulfillment"`
	} `json:"result"`
	Status struct {
		Code         int    `json:"code"`
		ErrorType    string `json:"errorType"`
		ErrorDetails string `json:"errorDetails"`
	} `json:"status"`
}

func (b *APIAI) Analyze(ctx context.Context, sender, text string) (*Analysis, error) {
	payload, err := json.Marshal(queryRequest{Query: text, Lang: b.Lang, SessionID: sender})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.BaseURL+"/query?v="+apiaiVersion, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+b.AccessToken)

	start := time.Now()
	resp, err := b.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query agent: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read agent response: %w", err)
	}
	b.Logger.WithFields(logrus.Fields{
		"sender":  sender,
		"status":  resp.StatusCode,
		"elapsed": time.Since(start).String(),
	}).Debug("agent analysis")
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agent answered %d: %s", resp.StatusCode, string(body))
	}

	var qr queryResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, fmt.Errorf("decode agent response: %w", err)
	}
	if qr.Status.Code != 0 && qr.Status.Code != http.StatusOK {
		return nil, fmt.Errorf("agent error %d %s: %s", qr.Status.Code, qr.Status.ErrorType, qr.Status.ErrorDetails)
	}

	a := &Analysis{
		Sender:     sender,
		Text:       text,
		Action:     qr.Result.Action,
		Incomplete: qr.Result.ActionIncomplete,
		Unknown:    qr.Result.Action == unknownAction,
		Speech:     qr.Result.Fulfillment.Speech,
	}
	if fb := qr.Result.Fulfillment.Data.Facebook; len(fb) > 0 && string(fb) != "null" {
		a.Facebook = []byte(fb)
	}
	return a, nil
}

// HandleIncomplete answers with the agent's follow-up question.
func (b *APIAI) HandleIncomplete(_ context.Context, a *Analysis) (bool, *messenger.Message) {
	if !a.Incomplete {
		return false, nil
	}
	b.Logger.WithField("action", a.Action).Info("incomplete message")
	return true, messenger.TextMessage(a.Speech)
}

func (b *APIAI) HandleUnknown(_ context.Context, a *Analysis) (bool, *messenger.Message) {
	if !a.Unknown {
		return false, nil
	}
	speech := a.Speech
	if speech == "" {
		speech = "Sorry, I did not understand that."
	}
	return true, messenger.TextMessage(speech)
}

// Process prefers the agent's Messenger payload over its plain speech.
func (b *APIAI) Process(_ context.Context, a *Analysis) (*messenger.Message, error) {
	if len(a.Facebook) > 0 {
		var msg messenger.Message
		if err := json.Unmarshal(a.Facebook, &msg); err == nil && (msg.Text != "" || msg.Attachment != nil) {
			return &msg, nil
		}
		b.Logger.WithField("data", string(a.Facebook)).Warn("unusable facebook data, falling back to speech")
	}
	return messenger.TextMessage(a.Speech), nil
}
