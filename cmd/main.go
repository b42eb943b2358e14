package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/bugsnag/panicwrap"
	"github.com/farmlink/presence/internal/configure"
	"github.com/farmlink/presence/internal/global"
	"github.com/farmlink/presence/internal/health"
	"github.com/farmlink/presence/internal/monitoring"
	"github.com/farmlink/presence/internal/pprof"
	"github.com/farmlink/presence/internal/rest"
	"github.com/farmlink/presence/internal/svc/durable"
	"github.com/farmlink/presence/internal/svc/ephemeral"
	"github.com/farmlink/presence/internal/svc/lifecycle"
	"github.com/farmlink/presence/internal/svc/mongo"
	"github.com/farmlink/presence/internal/svc/presences"
	"github.com/farmlink/presence/internal/svc/prometheus"
	"github.com/farmlink/presence/internal/svc/session"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

var (
	Version = "development"
	Unix    = ""
	Time    = "unknown"
	User    = "unknown"
)

func init() {
	debug.SetGCPercent(2000)
	if i, err := strconv.Atoi(Unix); err == nil {
		Time = time.Unix(int64(i), 0).Format(time.RFC3339)
	}
}

func main() {
	config := configure.New()

	exitStatus, err := panicwrap.BasicWrap(func(s string) {
		zap.S().Errorw("panic detected",
			"panic", s,
		)
	})
	if err != nil {
		zap.S().Errorw("failed to setup panic handler",
			"error", err,
		)
		os.Exit(2)
	}

	if exitStatus >= 0 {
		os.Exit(exitStatus)
	}

	if !config.NoHeader {
		zap.S().Info("Farmlink Presence")
		zap.S().Infof("Version: %s", Version)
		zap.S().Infof("build.Time: %s", Time)
		zap.S().Infof("build.User: %s", User)
	}

	zap.S().Debugf("MaxProcs: %d", runtime.GOMAXPROCS(0))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	gCtx, cancel := global.WithCancel(global.New(context.Background(), config))

	if config.Monitoring.Enabled {
		gCtx.Inst().Prometheus = prometheus.New(prometheus.Options{
			Labels: config.Monitoring.Labels.ToPrometheus(),
		})
	} else {
		gCtx.Inst().Prometheus = prometheus.NewNoop()
	}

	var closers []func()

	if config.Presence.Mock {
		zap.S().Warn("presence running against in-memory stores")

		gCtx.Inst().Durable = durable.NewMock()
		gCtx.Inst().Channel = ephemeral.NewMock()
	} else {
		{
			ctx, cancel := context.WithTimeout(gCtx, time.Second*15)
			gCtx.Inst().Mongo, err = mongo.Setup(ctx, mongo.SetupOptions{
				URI:      config.Mongo.URI,
				DB:       config.Mongo.DB,
				Username: config.Mongo.Username,
				Password: config.Mongo.Password,
				Direct:   config.Mongo.Direct,
			})
			cancel()
			if err != nil {
				zap.S().Fatalw("failed to setup mongo handler",
					"error", err,
				)
			}

			gCtx.Inst().Durable = durable.New(durable.Options{
				Collection: gCtx.Inst().Mongo.Collection(config.Mongo.Collection),
				CacheTTL:   config.Presence.CacheTTL,
			})

			closers = append(closers, func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
				defer cancel()

				_ = gCtx.Inst().Mongo.Close(ctx)
			})
		}

		{
			channel, err := ephemeral.NewNats(natsOptions(config))
			if err != nil {
				zap.S().Fatalw("failed to setup nats channel",
					"error", err,
				)
			}

			gCtx.Inst().Channel = channel
			closers = append(closers, func() {
				_ = channel.Close()
			})
		}
	}

	{
		gCtx.Inst().Sessions = session.New(session.Options{
			JWTSecret: config.Credentials.JWTSecret,
		})
		gCtx.Inst().Lifecycle = lifecycle.New()
	}

	{
		gCtx.Inst().Presences = presences.New(presences.Options{
			Durable:          gCtx.Inst().Durable,
			Channel:          gCtx.Inst().Channel,
			Sessions:         gCtx.Inst().Sessions,
			Lifecycle:        gCtx.Inst().Lifecycle,
			Prometheus:       gCtx.Inst().Prometheus,
			SettleDelay:      config.Presence.SettleDelay,
			WatchdogInterval: config.Presence.WatchdogInterval,
			FlushDelay:       config.Presence.FlushDelay,
			ConnectTimeout:   config.Presence.ConnectTimeout,
			WriteTimeout:     config.Presence.WriteTimeout,
		})

		if err := gCtx.Inst().Presences.Start(context.Background()); err != nil {
			zap.S().Fatalw("failed to start presence reconciler",
				"error", err,
			)
		}
	}

	wg := sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-lifecycle.NotifySignals(gCtx, gCtx.Inst().Lifecycle)
	}()

	if config.Sweeper.Enabled && !config.Presence.Mock {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runSweeper(gCtx)
		}()
	}

	if gCtx.Config().Health.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-health.New(gCtx)
		}()
	}
	if gCtx.Config().Monitoring.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-monitoring.New(gCtx)
		}()
	}
	if gCtx.Config().PProf.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-pprof.New(gCtx)
		}()
	}

	done := make(chan struct{})
	go func() {
		<-sig
		go func() {
			select {
			case <-time.After(time.Minute):
			case <-sig:
			}
			zap.S().Fatal("force shutdown")
		}()

		zap.S().Info("shutting down")

		// the exit sequence needs the channel, so it runs before anything is torn down
		ctx, exitCancel := context.WithTimeout(context.Background(), config.Presence.WriteTimeout*3)
		if err := gCtx.Inst().Presences.Exit(ctx); err != nil {
			zap.S().Warnw("presence exit failed",
				"error", err,
			)
		}
		exitCancel()

		cancel()
		gCtx.Inst().Presences.Stop()

		wg.Wait()

		for _, c := range closers {
			c()
		}

		close(done)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := rest.New(gCtx); err != nil {
			zap.S().Fatalw("rest failed",
				"error", err,
			)
		}
	}()

	zap.S().Info("running")

	<-done

	zap.S().Info("shutdown")
	os.Exit(0)
}

func natsOptions(config *configure.Config) ephemeral.NatsOptions {
	return ephemeral.NatsOptions{
		URL:          config.Nats.URL,
		User:         config.Nats.User,
		Password:     config.Nats.Password,
		Name:         config.Nats.Name,
		StatusBucket: config.Nats.StatusBucket,
		WillBucket:   config.Nats.WillBucket,
		ConnBucket:   config.Nats.ConnBucket,
		ConnTTL:      config.Nats.ConnTTL,
		Heartbeat:    config.Nats.Heartbeat,
	}
}

// runSweeper applies on-disconnect values over its own connection, which stays up
// while the channel is suspended.
func runSweeper(gCtx global.Context) {
	config := gCtx.Config()

	opts := []nats.Option{nats.Name(config.Nats.Name + "-sweeper"), nats.MaxReconnects(-1)}
	if config.Nats.User != "" {
		opts = append(opts, nats.UserInfo(config.Nats.User, config.Nats.Password))
	}

	nc, err := nats.Connect(config.Nats.URL, opts...)
	if err != nil {
		zap.S().Fatalw("failed to connect sweeper",
			"error", err,
		)
	}
	defer nc.Close()

	sweeper, err := ephemeral.NewSweeper(nc, ephemeral.SweeperOptions{
		Buckets:    natsOptions(config),
		Interval:   config.Sweeper.Interval,
		Prometheus: gCtx.Inst().Prometheus,
	})
	if err != nil {
		zap.S().Fatalw("failed to setup sweeper",
			"error", err,
		)
	}

	zap.S().Infow("sweeper enabled",
		"interval", config.Sweeper.Interval,
	)

	<-sweeper.Run(gCtx)
}
