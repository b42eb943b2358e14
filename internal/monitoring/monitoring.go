package monitoring

import (
	"net"

	"github.com/farmlink/presence/internal/global"
	"github.com/fasthttp/router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

func New(gCtx global.Context) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)

		bind := gCtx.Config().Monitoring.Bind

		ln, err := net.Listen("tcp", bind)
		if err != nil {
			zap.S().Fatalw("failed to start monitoring bind",
				"bind", bind,
				"error", err,
			)
		}

		zap.S().Infow("monitoring, ok",
			"bind", bind,
		)

		if err := Serve(gCtx, ln); err != nil {
			zap.S().Errorw("monitoring, server stopped",
				"error", err,
			)
		}
	}()

	return done
}

// Serve exposes the presence metrics and the runtime collectors on /metrics until
// the global context is canceled.
func Serve(gCtx global.Context, ln net.Listener) error {
	r := prometheus.NewRegistry()
	r.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	gCtx.Inst().Prometheus.Register(r)

	rt := router.New()
	rt.GET("/metrics", fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(r, promhttp.HandlerOpts{
		Registry:          r,
		ErrorLog:          zap.NewStdLog(zap.L()),
		EnableOpenMetrics: true,
	})))

	server := &fasthttp.Server{
		Handler:          rt.Handler,
		GetOnly:          true,
		DisableKeepalive: true,
		CloseOnShutdown:  true,
	}

	go func() {
		<-gCtx.Done()
		_ = server.Shutdown()
	}()

	return server.Serve(ln)
}
