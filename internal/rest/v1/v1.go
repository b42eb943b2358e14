package v1

import (
	"github.com/farmlink/presence/internal/global"
	"github.com/farmlink/presence/internal/rest/rest"
	"github.com/farmlink/presence/internal/rest/v1/routes"
)

// API is the local control surface of the presence reconciler.
func API(gCtx global.Context, router *rest.Router) rest.Route {
	return routes.New(gCtx)
}
