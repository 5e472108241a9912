package webhook

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"strings"

	"github.com/chabi-bot/chabi/apperr"
	"github.com/chabi-bot/chabi/chatbot"
	"github.com/gin-contrib/multitemplate"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

//go:embed templates/login.html
var loginHTML string

//go:embed static
var staticFiles embed.FS

const loginTemplate = "login"

const accountLinkingPath = "/messenger_platform/account_linking"

var defaultRedirectHosts = []string{"www.facebook.com", "facebook.com", "m.facebook.com", "www.messenger.com"}

var errMissingRedirect = apperr.New("missing_redirect_uri", http.StatusBadRequest, "redirect_uri is required")

// LoginPage is the account-link login Facebook opens from the log in button.
type LoginPage struct {
	Title string
	Codes *chatbot.AuthCodes
	// Accounts maps usernames to bcrypt password hashes.
	Accounts map[string]string
	// RedirectHosts overrides the Facebook hosts redirect_uri may point at.
	RedirectHosts []string
	Logger        *logrus.Logger
}

type loginForm struct {
	Username            string `form:"username" binding:"required"`
	Password            string `form:"password" binding:"required"`
	AccountLinkingToken string `form:"account_linking_token"`
	RedirectURI         string `form:"redirect_uri" binding:"required,url"`
}

type loginView struct {
	Title               string
	Error               string
	Username            string
	AccountLinkingToken string
	RedirectURI         string
}

func (p *LoginPage) title() string {
	if p.Title == "" {
		return "Log in"
	}
	return p.Title
}

// Show renders the login form for the linking session in the query string.
func (p *LoginPage) Show(c *gin.Context) {
	redirectURI := c.Query("redirect_uri")
	if redirectURI == "" {
		c.JSON(apperr.Status(errMissingRedirect), apperr.Payload(errMissingRedirect))
		return
	}
	if _, err := p.redirectTarget(redirectURI); err != nil {
		c.JSON(apperr.Status(err), apperr.Payload(err))
		return
	}
	c.HTML(http.StatusOK, loginTemplate, loginView{
		Title:               p.title(),
		AccountLinkingToken: c.Query("account_linking_token"),
		RedirectURI:         redirectURI,
	})
}

// Submit checks the credentials and sends the user back to Facebook with an
// authorization code.
func (p *LoginPage) Submit(c *gin.Context) {
	var form loginForm
	bindErr := c.ShouldBind(&form)
	if form.RedirectURI == "" {
		appErr := apperr.Wrap(errors.New("redirect_uri missing"), errMissingRedirect, "")
		c.JSON(apperr.Status(appErr), apperr.Payload(appErr))
		return
	}
	target, err := p.redirectTarget(form.RedirectURI)
	if err != nil {
		p.logger().WithError(err).WithField("redirect_uri", form.RedirectURI).Warn("refused account link redirect")
		c.JSON(apperr.Status(err), apperr.Payload(err))
		return
	}
	if bindErr != nil {
		p.fail(c, form, http.StatusBadRequest, "Username and password are required.")
		return
	}

	if !p.authenticate(form.Username, form.Password) {
		p.logger().WithField("username", form.Username).Warn("account link login failed")
		p.fail(c, form, http.StatusUnauthorized, "Invalid username or password.")
		return
	}

	code, err := p.Codes.Issue(form.Username, form.AccountLinkingToken)
	if err != nil {
		appErr := apperr.Wrap(err, apperr.ErrInternal, "unable to issue authorization code")
		p.logger().WithError(err).Error("issue authorization code")
		c.JSON(apperr.Status(appErr), apperr.Payload(appErr))
		return
	}

	q := target.Query()
	q.Set("authorization_code", code)
	target.RawQuery = q.Encode()

	p.logger().WithField("username", form.Username).Info("account link login succeeded")
	c.Redirect(http.StatusFound, target.String())
}

// redirectTarget only accepts https account linking urls on the allowed hosts.
func (p *LoginPage) redirectTarget(raw string) (*url.URL, error) {
	target, err := url.Parse(raw)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrRedirectURI, "")
	}
	validPath := target.Path == accountLinkingPath || strings.HasPrefix(target.Path, accountLinkingPath+"/")
	if target.Scheme != "https" || target.User != nil || target.Port() != "" || !validPath || !p.allowedHost(target.Hostname()) {
		return nil, apperr.Wrap(fmt.Errorf("redirect to %q refused", raw), apperr.ErrRedirectURI, "")
	}
	return target, nil
}

func (p *LoginPage) allowedHost(host string) bool {
	hosts := p.RedirectHosts
	if len(hosts) == 0 {
		hosts = defaultRedirectHosts
	}
	for _, h := range hosts {
		if strings.EqualFold(h, host) {
			return true
		}
	}
	return false
}

func (p *LoginPage) authenticate(username, password string) bool {
	hash, ok := p.Accounts[username]
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func (p *LoginPage) fail(c *gin.Context, form loginForm, status int, message string) {
	c.HTML(status, loginTemplate, loginView{
		Title:               p.title(),
		Error:               message,
		Username:            form.Username,
		AccountLinkingToken: form.AccountLinkingToken,
		RedirectURI:         form.RedirectURI,
	})
}

func (p *LoginPage) logger() *logrus.Logger {
	if p.Logger == nil {
		return logrus.StandardLogger()
	}
	return p.Logger
}

// RegisterRoutes mounts the login form and its stylesheet. It installs the
// engine's HTML renderer.
func (p *LoginPage) RegisterRoutes(route *gin.Engine) {
	renderer := multitemplate.New()
	renderer.AddFromString(loginTemplate, loginHTML)
	route.HTMLRender = renderer

	static, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	route.StaticFS("/facebook/static", http.FS(static))
	route.GET("/facebook/login", p.Show)
	route.POST("/facebook/login", p.Submit)
}
