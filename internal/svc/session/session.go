package session

import (
	"errors"
	"fmt"

	"github.com/farmlink/presence/internal/instance"
	"github.com/farmlink/presence/internal/svc/feed"
	"go.uber.org/zap"
)

var ErrMissingUser = errors.New("token carries no user")

// Source tracks the signed-in identity of this application instance.
type Source struct {
	feed      *feed.Feed[string]
	jwtSecret string
}

type Options struct {
	JWTSecret string
}

func New(opt Options) *Source {
	return &Source{
		feed:      feed.New[string](),
		jwtSecret: opt.JWTSecret,
	}
}

// Subscribe implements instance.SessionSource
func (s *Source) Subscribe(fn func(userID string)) instance.Unsubscribe {
	return s.feed.Subscribe(fn)
}

// Publish emits an already trusted identity. An empty ID signs out.
func (s *Source) Publish(userID string) {
	s.feed.Publish(userID)
}

// SignIn verifies an access token and emits its user. Refreshing the token of
// the current user emits the same identity again.
func (s *Source) SignIn(token string) (string, error) {
	claims := &JWTClaimUser{}
	if _, err := VerifyJWT(s.jwtSecret, token, claims); err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}

	if claims.UserID == "" {
		return "", ErrMissingUser
	}

	zap.S().Debugw("session, signed in",
		"user_id", claims.UserID,
		"token_version", claims.TokenVersion,
	)

	s.feed.Publish(claims.UserID)

	return claims.UserID, nil
}

func (s *Source) SignOut() {
	if prev := s.Current(); prev != "" {
		zap.S().Debugw("session, signed out",
			"user_id", prev,
		)
	}

	s.feed.Publish("")
}

// Current returns the signed-in user ID, or an empty string.
func (s *Source) Current() string {
	v, _ := s.feed.Latest()
	return v
}
