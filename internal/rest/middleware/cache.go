package middleware

import (
	"fmt"
	"strings"

	"github.com/farmlink/presence/internal/rest/rest"
)

func SetCacheControl(maxAge int, args []string) rest.Middleware {
	return func(ctx *rest.Ctx) rest.APIError {
		extra := ""
		if len(args) > 0 {
			extra = ", " + strings.Join(args, ", ")
		}

		ctx.Response.Header.Set("Cache-Control", fmt.Sprintf("max-age=%d%s", maxAge, extra))

		return nil
	}
}
