package chatbot

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
)

const defaultCodeTTL = 10 * time.Minute

// AuthCodes issues and verifies the authorization codes handed to Facebook at
// the end of the account-link login.
type AuthCodes struct {
	Key    []byte
	TTL    time.Duration
	Issuer string
}

// CodeClaims ties a code to the logged in user and the linking session.
type CodeClaims struct {
	Username     string `json:"username"`
	LinkingToken string `json:"account_linking_token,omitempty"`
	jwt.StandardClaims
}

func NewAuthCodes(key string, ttl time.Duration) *AuthCodes {
	if ttl <= 0 {
		ttl = defaultCodeTTL
	}
	return &AuthCodes{Key: []byte(key), TTL: ttl, Issuer: "chabi"}
}

func (a *AuthCodes) Issue(username, linkingToken string) (string, error) {
	if len(a.Key) == 0 {
		return "", errors.New("empty jwt key")
	}
	now := time.Now()
	claims := CodeClaims{
		Username:     username,
		LinkingToken: linkingToken,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(a.TTL).Unix(),
			Issuer:    a.Issuer,
			Subject:   username,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Key)
}

func (a *AuthCodes) Verify(code string) (*CodeClaims, error) {
	token, err := jwt.ParseWithClaims(code, &CodeClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.Key, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*CodeClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid authorization code")
	}
	if a.Issuer != "" && claims.Issuer != a.Issuer {
		return nil, errors.New("authorization code from another issuer")
	}
	return claims, nil
}
