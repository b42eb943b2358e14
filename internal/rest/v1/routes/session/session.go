package session

import (
	"github.com/farmlink/presence/internal/errors"
	"github.com/farmlink/presence/internal/global"
	"github.com/farmlink/presence/internal/rest/middleware"
	"github.com/farmlink/presence/internal/rest/rest"
)

type Route struct {
	Ctx global.Context
}

func New(gCtx global.Context) rest.Route {
	return &Route{gCtx}
}

func (r *Route) Config() rest.RouteConfig {
	return rest.RouteConfig{
		URI:    "/session",
		Method: rest.PUT,
	}
}

type signInBody struct {
	Token string `json:"token"`
}

type Response struct {
	UserID string `json:"user_id"`
}

// Sign In
// Verifies the access token and binds the reconciler to its user.
func (r *Route) Handler(ctx *rest.Ctx) rest.APIError {
	body := signInBody{}
	if err := ctx.Bind(&body); err != nil {
		return err
	}

	if body.Token == "" {
		return errors.ErrMissingRequiredField().SetDetail("token")
	}

	userID, err := r.Ctx.Inst().Sessions.SignIn(body.Token)
	if err != nil {
		return errors.ErrUnauthorized().SetFields(errors.Fields{"message": err.Error()})
	}

	return ctx.JSON(rest.OK, &Response{UserID: userID})
}

type signOutRoute struct {
	Ctx global.Context
}

func NewSignOut(gCtx global.Context) rest.Route {
	return &signOutRoute{gCtx}
}

func (r *signOutRoute) Config() rest.RouteConfig {
	return rest.RouteConfig{
		URI:    "/session",
		Method: rest.DELETE,
		Middleware: []rest.Middleware{
			middleware.Auth(r.Ctx),
		},
	}
}

// Sign Out
// Only the signed-in user may end the session.
func (r *signOutRoute) Handler(ctx *rest.Ctx) rest.APIError {
	actor, _ := ctx.GetActor()
	if current := r.Ctx.Inst().Sessions.Current(); current != actor {
		return errors.ErrUnauthorized().SetDetail("Not The Signed In User")
	}

	r.Ctx.Inst().Sessions.SignOut()

	ctx.SetStatusCode(rest.NoContent)

	return nil
}
