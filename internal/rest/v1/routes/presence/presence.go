package presence

import (
	"github.com/farmlink/presence/internal/errors"
	"github.com/farmlink/presence/internal/global"
	"github.com/farmlink/presence/internal/rest/middleware"
	"github.com/farmlink/presence/internal/rest/rest"
	"go.uber.org/zap"
)

type Route struct {
	Ctx global.Context
}

func New(gCtx global.Context) rest.Route {
	return &Route{gCtx}
}

func (r *Route) Config() rest.RouteConfig {
	return rest.RouteConfig{
		URI:    "/presence/{user}",
		Method: rest.GET,
		Middleware: []rest.Middleware{
			middleware.Auth(r.Ctx),
			middleware.SetCacheControl(5, []string{"private"}),
		},
	}
}

// Get Presence
// Returns the durable presence record of a user.
func (r *Route) Handler(ctx *rest.Ctx) rest.APIError {
	userID, ok := ctx.UserValue("user").String()
	if !ok {
		return errors.ErrInvalidRequest().SetDetail("user")
	}

	rec, found, err := r.Ctx.Inst().Durable.Get(ctx, userID)
	if err != nil {
		zap.S().Errorw("failed to read presence",
			"user_id", userID,
			"error", err,
		)

		return errors.ErrInternalServerError()
	}

	if !found {
		return errors.ErrUnknownUser().SetFields(errors.Fields{"user_id": userID})
	}

	return ctx.JSON(rest.OK, rec)
}
