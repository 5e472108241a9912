package gateway

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/chabi-bot/chabi/apperr"
	"github.com/gin-gonic/gin"
)

const SignatureHeader = "X-Hub-Signature-256"

// VerifySignature rejects POST bodies whose X-Hub-Signature-256 does not match
// the app secret. An empty secret disables the check.
func VerifySignature(appSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if appSecret == "" || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, apperr.Payload(apperr.Wrap(err, apperr.ErrBadRequest, "unable to read body")))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		if !ValidSignature(appSecret, body, c.GetHeader(SignatureHeader)) {
			c.AbortWithStatusJSON(apperr.Status(apperr.ErrSignature), apperr.Payload(apperr.ErrSignature))
			return
		}
		c.Next()
	}
}

// ValidSignature checks header, formatted as sha256=<hex>, against body.
func ValidSignature(appSecret string, body []byte, header string) bool {
	got, ok := strings.CutPrefix(header, "sha256=")
	if !ok || got == "" {
		return false
	}
	sig, err := hex.DecodeString(got)
	if err != nil {
		return false
	}
	return hmac.Equal(sig, Sign(appSecret, body))
}

func Sign(appSecret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return mac.Sum(nil)
}
