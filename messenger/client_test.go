package messenger

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chabi-bot/chabi/apperr"
	"github.com/sirupsen/logrus"
)

type capturedRequest struct {
	Path  string
	Token string
	CT    string
	Body  map[string]interface{}
}

func newGraphServer(t *testing.T, status int) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var got []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var decoded map[string]interface{}
		if err := json.Unmarshal(body, &decoded); err != nil {
			t.Errorf("graph server got invalid json: %v", err)
		}
		got = append(got, capturedRequest{
			Path:  r.URL.Path,
			Token: r.URL.Query().Get("access_token"),
			CT:    r.Header.Get("Content-Type"),
			Body:  decoded,
		})
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"Invalid OAuth access token."}}`))
			return
		}
		_, _ = w.Write([]byte(`{"recipient_id":"1","message_id":"mid.1"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestClientSend(t *testing.T) {
	srv, got := newGraphServer(t, http.StatusOK)
	c := NewClient(srv.URL+"/", "page-token", testLogger())

	if err := c.Send(context.Background(), "sender_id", TextMessage("hello")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(*got) != 1 {
		t.Fatalf("expected one request, got %d", len(*got))
	}
	req := (*got)[0]
	if req.Path != "/me/messages" {
		t.Errorf("path = %q", req.Path)
	}
	if req.Token != "page-token" {
		t.Errorf("access_token = %q", req.Token)
	}
	if req.CT != "application/json" {
		t.Errorf("content type = %q", req.CT)
	}
	recipient, _ := req.Body["recipient"].(map[string]interface{})
	if recipient["id"] != "sender_id" {
		t.Errorf("recipient = %#v", req.Body["recipient"])
	}
	message, _ := req.Body["message"].(map[string]interface{})
	if message["text"] != "hello" {
		t.Errorf("message = %#v", req.Body["message"])
	}
}

func TestClientSendNilMessage(t *testing.T) {
	srv, got := newGraphServer(t, http.StatusOK)
	c := NewClient(srv.URL, "page-token", testLogger())
	if err := c.Send(context.Background(), "sender_id", nil); err != nil {
		t.Fatalf("Send(nil) error = %v", err)
	}
	if len(*got) != 0 {
		t.Fatalf("nil message should not reach the graph api")
	}
}

func TestClientSendAction(t *testing.T) {
	srv, got := newGraphServer(t, http.StatusOK)
	c := NewClient(srv.URL, "page-token", testLogger())

	if err := c.SendAction(context.Background(), "sender_id", TypingOn); err != nil {
		t.Fatalf("SendAction() error = %v", err)
	}
	body := (*got)[0].Body
	if body["sender_action"] != TypingOn {
		t.Errorf("sender_action = %#v", body["sender_action"])
	}
	if _, ok := body["message"]; ok {
		t.Errorf("sender action must not carry a message")
	}
}

func TestClientUnlinkAccount(t *testing.T) {
	srv, got := newGraphServer(t, http.StatusOK)
	c := NewClient(srv.URL, "page-token", testLogger())

	if err := c.UnlinkAccount(context.Background(), "psid-1"); err != nil {
		t.Fatalf("UnlinkAccount() error = %v", err)
	}
	req := (*got)[0]
	if req.Path != "/me/unlink_accounts" || req.Body["psid"] != "psid-1" {
		t.Errorf("unexpected request %#v", req)
	}
}

func TestClientNon200(t *testing.T) {
	srv, got := newGraphServer(t, http.StatusBadRequest)
	c := NewClient(srv.URL, "bad-token", testLogger())

	err := c.Send(context.Background(), "sender_id", TextMessage("hello"))
	if err == nil {
		t.Fatalf("expected an error for a 400 answer")
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("error should carry the status: %v", err)
	}
	if apperr.Code(err) != "graph_error" {
		t.Errorf("error code = %q, want graph_error", apperr.Code(err))
	}
	if len(*got) != 1 {
		t.Errorf("request must not be retried, got %d calls", len(*got))
	}
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient("", "token", nil)
	if c.GraphURL != DefaultGraphURL {
		t.Errorf("GraphURL = %q", c.GraphURL)
	}
	if c.Logger == nil || c.HTTPClient == nil {
		t.Errorf("defaults not set")
	}
}
