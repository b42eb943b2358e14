package lifecycle

import (
	"github.com/farmlink/presence/internal/errors"
	"github.com/farmlink/presence/internal/global"
	"github.com/farmlink/presence/internal/rest/rest"
	"github.com/farmlink/presence/internal/structures"
)

type Route struct {
	Ctx global.Context
}

func New(gCtx global.Context) rest.Route {
	return &Route{gCtx}
}

func (r *Route) Config() rest.RouteConfig {
	return rest.RouteConfig{
		URI:    "/lifecycle/{state}",
		Method: rest.POST,
	}
}

type Response struct {
	State structures.LifecycleState `json:"state"`
}

// Report Lifecycle
// The host shell reports foreground, background and termination transitions.
func (r *Route) Handler(ctx *rest.Ctx) rest.APIError {
	s, _ := ctx.UserValue("state").String()

	state, err := structures.ParseLifecycleState(s)
	if err != nil {
		return errors.ErrInvalidRequest().SetDetail(err.Error())
	}

	r.Ctx.Inst().Lifecycle.Emit(state)

	return ctx.JSON(rest.Accepted, &Response{State: state})
}
