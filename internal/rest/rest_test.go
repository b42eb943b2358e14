package rest

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/farmlink/presence/internal/configure"
	"github.com/farmlink/presence/internal/global"
	"github.com/farmlink/presence/internal/structures"
	"github.com/farmlink/presence/internal/svc/durable"
	"github.com/farmlink/presence/internal/svc/ephemeral"
	"github.com/farmlink/presence/internal/svc/lifecycle"
	"github.com/farmlink/presence/internal/svc/presences"
	"github.com/farmlink/presence/internal/svc/session"
	"github.com/farmlink/presence/internal/testutil"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

const testSecret = "test-secret"

type server struct {
	gCtx    global.Context
	client  *fasthttp.Client
	durable *durable.Mock
}

func newServer(t *testing.T) *server {
	t.Helper()

	config := &configure.Config{}
	config.Credentials.JWTSecret = testSecret

	gCtx, cancel := global.WithCancel(global.New(context.Background(), config))

	store := durable.NewMock()
	inst := gCtx.Inst()
	inst.Durable = store
	inst.Channel = ephemeral.NewMock()
	inst.Sessions = session.New(session.Options{JWTSecret: testSecret})
	inst.Lifecycle = lifecycle.New()
	inst.Presences = presences.New(presences.Options{
		Durable:          inst.Durable,
		Channel:          inst.Channel,
		Sessions:         inst.Sessions,
		Lifecycle:        inst.Lifecycle,
		SettleDelay:      5 * time.Millisecond,
		WatchdogInterval: 50 * time.Millisecond,
		FlushDelay:       time.Millisecond,
		ConnectTimeout:   100 * time.Millisecond,
	})
	require.NoError(t, inst.Presences.Start(gCtx))

	ln := fasthttputil.NewInmemoryListener()
	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = Serve(gCtx, ln)
	}()

	t.Cleanup(func() {
		cancel()
		inst.Presences.Stop()
		<-done
	})

	return &server{
		gCtx:    gCtx,
		durable: store,
		client: &fasthttp.Client{
			Dial: func(addr string) (net.Conn, error) {
				return ln.Dial()
			},
		},
	}
}

func (s *server) do(t *testing.T, method, path, token, body string) (int, string) {
	t.Helper()

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI("http://presence" + path)
	req.Header.SetMethod(method)

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	if body != "" {
		req.SetBodyString(body)
	}

	require.NoError(t, s.client.DoTimeout(req, resp, 2*time.Second))

	return resp.StatusCode(), string(resp.Body())
}

func token(t *testing.T, userID string) string {
	t.Helper()

	tok, err := session.SignJWT(testSecret, &session.JWTClaimUser{
		UserID:       userID,
		TokenVersion: 1,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	require.NoError(t, err)

	return tok
}

func TestRoot(t *testing.T) {
	s := newServer(t)

	status, body := s.do(t, fasthttp.MethodGet, "/v1", "", "")
	assert.Equal(t, fasthttp.StatusOK, status)
	assert.Contains(t, body, `"online":true`)
	assert.Contains(t, body, `"state":"unbound"`)

	status, body = s.do(t, fasthttp.MethodGet, "/v2/nothing", "", "")
	assert.Equal(t, fasthttp.StatusNotFound, status)
	assert.Contains(t, body, "Unknown Route")
}

func TestSessionLifecycle(t *testing.T) {
	s := newServer(t)
	tok := token(t, "U1")

	status, body := s.do(t, fasthttp.MethodPut, "/v1/session", "", `{"token":"`+tok+`"}`)
	require.Equal(t, fasthttp.StatusOK, status, body)
	assert.JSONEq(t, `{"user_id":"U1"}`, body)

	testutil.Eventually(t, 2*time.Second, func() bool {
		rec, ok, _ := s.durable.Get(context.Background(), "U1")
		return ok && rec.IsOnline
	}, "online after sign in")

	status, body = s.do(t, fasthttp.MethodGet, "/v1/presence/U1", tok, "")
	assert.Equal(t, fasthttp.StatusOK, status)
	assert.Contains(t, body, `"isOnline":true`)

	status, _ = s.do(t, fasthttp.MethodPost, "/v1/lifecycle/background", "", "")
	assert.Equal(t, fasthttp.StatusAccepted, status)

	testutil.Eventually(t, 2*time.Second, func() bool {
		rec, _, _ := s.durable.Get(context.Background(), "U1")
		return !rec.IsOnline
	}, "offline after background")
	assert.Equal(t, structures.LifecycleStateBackground, s.gCtx.Inst().Lifecycle.Current())

	status, _ = s.do(t, fasthttp.MethodDelete, "/v1/session", token(t, "U2"), "")
	assert.Equal(t, fasthttp.StatusUnauthorized, status)

	status, _ = s.do(t, fasthttp.MethodDelete, "/v1/session", tok, "")
	assert.Equal(t, fasthttp.StatusNoContent, status)

	testutil.Eventually(t, 2*time.Second, func() bool {
		return s.gCtx.Inst().Presences.Snapshot().State == presences.StateUnbound
	}, "unbound after sign out")
}

func TestBadRequests(t *testing.T) {
	s := newServer(t)

	status, _ := s.do(t, fasthttp.MethodPut, "/v1/session", "", `{"token":"garbage"}`)
	assert.Equal(t, fasthttp.StatusUnauthorized, status)

	status, _ = s.do(t, fasthttp.MethodPut, "/v1/session", "", `{}`)
	assert.Equal(t, fasthttp.StatusBadRequest, status)

	status, _ = s.do(t, fasthttp.MethodPut, "/v1/session", "", `{`)
	assert.Equal(t, fasthttp.StatusBadRequest, status)

	status, body := s.do(t, fasthttp.MethodPost, "/v1/lifecycle/asleep", "", "")
	assert.Equal(t, fasthttp.StatusBadRequest, status)
	assert.Contains(t, body, "unknown lifecycle state")

	status, _ = s.do(t, fasthttp.MethodGet, "/v1/presence/U1", "", "")
	assert.Equal(t, fasthttp.StatusUnauthorized, status)

	status, _ = s.do(t, fasthttp.MethodGet, "/v1/presence/U9", token(t, "U1"), "")
	assert.Equal(t, fasthttp.StatusNotFound, status)
}
