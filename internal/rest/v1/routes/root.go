package routes

import (
	"github.com/farmlink/presence/internal/errors"
	"github.com/farmlink/presence/internal/global"
	"github.com/farmlink/presence/internal/rest/rest"
	"github.com/farmlink/presence/internal/rest/v1/routes/lifecycle"
	"github.com/farmlink/presence/internal/rest/v1/routes/presence"
	"github.com/farmlink/presence/internal/rest/v1/routes/session"
	"github.com/farmlink/presence/internal/svc/presences"
)

type Route struct {
	Ctx global.Context
}

func New(gCtx global.Context) rest.Route {
	return &Route{gCtx}
}

func (r *Route) Config() rest.RouteConfig {
	return rest.RouteConfig{
		URI:    "/v1",
		Method: rest.GET,
		Children: []rest.Route{
			session.New(r.Ctx),
			session.NewSignOut(r.Ctx),
			lifecycle.New(r.Ctx),
			presence.New(r.Ctx),
		},
	}
}

func (r *Route) Handler(ctx *rest.Ctx) rest.APIError {
	if r.Ctx.Inst().Presences == nil {
		return errors.ErrReconcilerUnavailable()
	}

	return ctx.JSON(rest.OK, &Response{
		Online:   true,
		Snapshot: r.Ctx.Inst().Presences.Snapshot(),
	})
}

type Response struct {
	Online   bool               `json:"online"`
	Snapshot presences.Snapshot `json:"reconciler"`
}
