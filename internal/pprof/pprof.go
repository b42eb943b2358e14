package pprof

import (
	"errors"
	"net/http"
	"net/http/pprof"

	"github.com/farmlink/presence/internal/global"
	"go.uber.org/zap"
)

func New(gCtx global.Context) <-chan struct{} {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	srv := &http.Server{
		Addr:    gCtx.Config().PProf.Bind,
		Handler: mux,
	}

	done := make(chan struct{})

	go func() {
		defer close(done)
		zap.S().Infow("pprof enabled",
			"bind", gCtx.Config().PProf.Bind,
		)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.S().Fatalw("pprof failed to listen",
				"error", err,
			)
		}
	}()

	go func() {
		<-gCtx.Done()
		_ = srv.Close()
	}()

	return done
}
