package health

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/farmlink/presence/internal/configure"
	"github.com/farmlink/presence/internal/global"
	"github.com/farmlink/presence/internal/svc/durable"
	"github.com/farmlink/presence/internal/svc/ephemeral"
	"github.com/farmlink/presence/internal/svc/lifecycle"
	"github.com/farmlink/presence/internal/svc/presences"
	"github.com/farmlink/presence/internal/svc/session"
	"github.com/farmlink/presence/internal/testutil"
)

func TestHealth(t *testing.T) {
	t.Parallel()

	config := &configure.Config{}
	config.Health.Enabled = true
	config.Health.Bind = "127.0.1.1:3000"

	gCtx, cancel := global.WithCancel(global.New(context.Background(), config))

	done := New(gCtx)

	time.Sleep(time.Millisecond * 50)

	resp, err := http.DefaultClient.Get("http://127.0.1.1:3000")
	testutil.IsNil(t, err, "No error")
	_ = resp.Body.Close()
	testutil.Assert(t, http.StatusOK, resp.StatusCode, "response code")

	cancel()

	<-done
}

func TestHealthDegraded(t *testing.T) {
	t.Parallel()

	config := &configure.Config{}
	config.Health.Enabled = true
	config.Health.Bind = "127.0.1.1:3001"

	gCtx, cancel := global.WithCancel(global.New(context.Background(), config))
	defer cancel()

	channel := ephemeral.NewMock()
	sessions := session.New(session.Options{})
	reconciler := presences.New(presences.Options{
		Durable:          durable.NewMock(),
		Channel:          channel,
		Sessions:         sessions,
		Lifecycle:        lifecycle.New(),
		SettleDelay:      time.Millisecond,
		WatchdogInterval: 20 * time.Millisecond,
		ConnectTimeout:   20 * time.Millisecond,
	})
	gCtx.Inst().Presences = reconciler

	testutil.IsNil(t, reconciler.Start(gCtx), "reconciler started")
	defer reconciler.Stop()

	done := New(gCtx)

	channel.HoldOffline(true)
	channel.Drop()
	sessions.Publish("U1")

	testutil.Eventually(t, 2*time.Second, func() bool {
		return reconciler.Snapshot().Degraded
	}, "reconciler degraded")

	resp, err := http.DefaultClient.Get("http://127.0.1.1:3001")
	testutil.IsNil(t, err, "No error")
	_ = resp.Body.Close()
	testutil.Assert(t, http.StatusInternalServerError, resp.StatusCode, "response code")

	cancel()

	<-done
}
