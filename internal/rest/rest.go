package rest

import (
	"fmt"
	"net"
	"time"

	"github.com/farmlink/presence/internal/global"
	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

type HttpServer struct {
	listener net.Listener
	router   *router.Router
}

func New(gCtx global.Context) error {
	port := gCtx.Config().Http.Port
	if port == 0 {
		port = 80
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", gCtx.Config().Http.Addr, port))
	if err != nil {
		return err
	}

	return Serve(gCtx, ln)
}

// Serve runs the control API on ln until the global context is canceled.
func Serve(gCtx global.Context, ln net.Listener) error {
	s := HttpServer{
		listener: ln,
		router:   router.New(),
	}

	// Add versions
	s.SetupHandlers()
	s.V1(gCtx)

	srv := &fasthttp.Server{
		Handler: func(ctx *fasthttp.RequestCtx) {
			start := time.Now()
			defer func() {
				if err := recover(); err != nil {
					zap.S().Errorw("panic in rest request handler",
						"panic", err,
						"status", ctx.Response.StatusCode(),
						"duration", time.Since(start)/time.Millisecond,
						"method", string(ctx.Method()),
						"path", string(ctx.Path()),
					)
				} else {
					zap.S().Debugw("rest request",
						"status", ctx.Response.StatusCode(),
						"duration", time.Since(start)/time.Millisecond,
						"method", string(ctx.Method()),
						"path", string(ctx.Path()),
					)
				}
			}()

			// Routing
			ctx.Response.Header.Set("Content-Type", "application/json") // default to JSON
			s.router.Handler(ctx)
		},
		ReadTimeout:        time.Second * 30,
		IdleTimeout:        time.Second * 10,
		MaxRequestBodySize: 1 << 16,
		LogAllErrors:       true,
		CloseOnShutdown:    true,
	}

	// Gracefully exit when the global context is canceled
	go func() {
		<-gCtx.Done()
		_ = srv.Shutdown()
	}()

	return srv.Serve(s.listener)
}
