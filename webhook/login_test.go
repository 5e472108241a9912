package webhook

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/chabi-bot/chabi/chatbot"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const facebookRedirect = "https://www.facebook.com/messenger_platform/account_linking/?account_linking_token=tok"

func newLoginRouter(t *testing.T) (*gin.Engine, *chatbot.AuthCodes) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	codes := chatbot.NewAuthCodes("signing-key", time.Minute)
	page := &LoginPage{
		Codes:    codes,
		Accounts: map[string]string{"alice": string(hash)},
		Logger:   quietLogger(),
	}
	route := gin.New()
	page.RegisterRoutes(route)
	return route, codes
}

func postForm(route *gin.Engine, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/facebook/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	route.ServeHTTP(w, req)
	return w
}

func TestLoginPageShow(t *testing.T) {
	route, _ := newLoginRouter(t)

	w := httptest.NewRecorder()
	target := "/facebook/login?account_linking_token=tok&redirect_uri=" + url.QueryEscape(facebookRedirect)
	route.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `name="account_linking_token" value="tok"`) {
		t.Errorf("linking token not carried by the form:\n%s", body)
	}
	if !strings.Contains(body, "/facebook/static/style.css") {
		t.Errorf("stylesheet not linked")
	}

	w = httptest.NewRecorder()
	route.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/facebook/login", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing redirect_uri status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	route.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/facebook/login?redirect_uri="+url.QueryEscape("https://evil.example/collect"), nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("foreign redirect_uri status = %d", w.Code)
	}
}

func TestLoginPageSubmit(t *testing.T) {
	route, codes := newLoginRouter(t)

	w := postForm(route, url.Values{
		"username":              {"alice"},
		"password":              {"s3cret"},
		"account_linking_token": {"tok"},
		"redirect_uri":          {facebookRedirect},
	})
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	if loc.Host != "www.facebook.com" || loc.Query().Get("account_linking_token") != "tok" {
		t.Errorf("redirect lost the original target: %s", loc)
	}
	claims, err := codes.Verify(loc.Query().Get("authorization_code"))
	if err != nil {
		t.Fatalf("authorization code does not verify: %v", err)
	}
	if claims.Username != "alice" || claims.LinkingToken != "tok" {
		t.Errorf("unexpected claims %#v", claims)
	}
}

func TestLoginPageRejects(t *testing.T) {
	route, _ := newLoginRouter(t)

	tests := []struct {
		name string
		form url.Values
		want int
	}{
		{"wrong password", url.Values{"username": {"alice"}, "password": {"nope"}, "redirect_uri": {facebookRedirect}}, http.StatusUnauthorized},
		{"unknown user", url.Values{"username": {"bob"}, "password": {"s3cret"}, "redirect_uri": {facebookRedirect}}, http.StatusUnauthorized},
		{"missing password", url.Values{"username": {"alice"}, "redirect_uri": {facebookRedirect}}, http.StatusBadRequest},
		{"missing redirect", url.Values{"username": {"alice"}, "password": {"s3cret"}}, http.StatusBadRequest},
		{"bad redirect", url.Values{"username": {"alice"}, "password": {"s3cret"}, "redirect_uri": {"not a url"}}, http.StatusBadRequest},
		{"foreign host", url.Values{"username": {"alice"}, "password": {"s3cret"}, "redirect_uri": {"https://evil.example/collect"}}, http.StatusBadRequest},
		{"lookalike host", url.Values{"username": {"alice"}, "password": {"s3cret"}, "redirect_uri": {"https://www.facebook.com.evil.example/messenger_platform/account_linking/"}}, http.StatusBadRequest},
		{"plain http", url.Values{"username": {"alice"}, "password": {"s3cret"}, "redirect_uri": {"http://www.facebook.com/messenger_platform/account_linking/"}}, http.StatusBadRequest},
		{"other facebook path", url.Values{"username": {"alice"}, "password": {"s3cret"}, "redirect_uri": {"https://www.facebook.com/collect"}}, http.StatusBadRequest},
		{"foreign host missing password", url.Values{"username": {"alice"}, "redirect_uri": {"https://evil.example/collect"}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postForm(route, tt.form)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if w.Header().Get("Location") != "" {
				t.Errorf("rejected login must not redirect")
			}
			if strings.Contains(w.Body.String(), "authorization_code") {
				t.Errorf("rejected login leaked an authorization code")
			}
		})
	}
}

func TestStaticStylesheet(t *testing.T) {
	route, _ := newLoginRouter(t)

	w := httptest.NewRecorder()
	route.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/facebook/static/style.css", nil))
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("stylesheet status = %d, %d bytes", w.Code, w.Body.Len())
	}
}

func TestLoginPageRedirectHosts(t *testing.T) {
	page := &LoginPage{RedirectHosts: []string{"business.facebook.com"}}

	tests := []struct {
		uri  string
		want bool
	}{
		{"https://business.facebook.com/messenger_platform/account_linking/?account_linking_token=tok", true},
		{"https://BUSINESS.facebook.com/messenger_platform/account_linking", true},
		{facebookRedirect, false},
		{"https://business.facebook.com:8443/messenger_platform/account_linking/", false},
		{"https://user@business.facebook.com/messenger_platform/account_linking/", false},
		{"https://business.facebook.com/messenger_platform/account_linking_evil", false},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			_, err := page.redirectTarget(tt.uri)
			if (err == nil) != tt.want {
				t.Errorf("redirectTarget(%q) err = %v, want allowed=%v", tt.uri, err, tt.want)
			}
		})
	}
}
