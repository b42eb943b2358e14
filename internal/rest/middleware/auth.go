package middleware

import (
	"strings"

	"github.com/farmlink/presence/internal/errors"
	"github.com/farmlink/presence/internal/global"
	"github.com/farmlink/presence/internal/rest/rest"
	"github.com/farmlink/presence/internal/svc/session"
)

func Auth(gCtx global.Context) rest.Middleware {
	return func(ctx *rest.Ctx) rest.APIError {
		// Parse token from header
		h := string(ctx.Request.Header.Peek("Authorization"))
		s := strings.Split(h, "Bearer ")

		if len(s) != 2 {
			return errors.ErrUnauthorized().SetFields(errors.Fields{"message": "Bad Authorization Header"})
		}

		// Verify the token
		claims := &session.JWTClaimUser{}
		if _, err := session.VerifyJWT(gCtx.Config().Credentials.JWTSecret, s[1], claims); err != nil {
			return errors.ErrUnauthorized().SetFields(errors.Fields{"message": err.Error()})
		}

		if claims.UserID == "" {
			return errors.ErrUnauthorized().SetFields(errors.Fields{"message": "Token Has No User"})
		}

		ctx.SetActor(claims.UserID)

		return nil
	}
}
