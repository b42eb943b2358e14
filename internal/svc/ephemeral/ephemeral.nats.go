package ephemeral

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/farmlink/presence/internal/instance"
	"github.com/farmlink/presence/internal/structures"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type NatsOptions struct {
	URL      string
	User     string
	Password string
	Name     string

	StatusBucket string
	WillBucket   string
	ConnBucket   string
	// ConnTTL is how long a connection stays alive without a heartbeat.
	ConnTTL   time.Duration
	Heartbeat time.Duration

	Now func() time.Time
}

func (o NatsOptions) withDefaults() NatsOptions {
	if o.StatusBucket == "" {
		o.StatusBucket = "STATUS"
	}

	if o.WillBucket == "" {
		o.WillBucket = "STATUS_WILL"
	}

	if o.ConnBucket == "" {
		o.ConnBucket = "STATUS_CONN"
	}

	if o.ConnTTL <= 0 {
		o.ConnTTL = 30 * time.Second
	}

	if o.Heartbeat <= 0 || o.Heartbeat >= o.ConnTTL {
		o.Heartbeat = o.ConnTTL / 3
	}

	if o.Now == nil {
		o.Now = time.Now
	}

	return o
}

// defaultWriteTimeout bounds writes made with a context that carries no deadline.
const defaultWriteTimeout = 5 * time.Second

type buckets struct {
	js     nats.JetStreamContext
	status nats.KeyValue
	wills  nats.KeyValue
	conns  nats.KeyValue
}

// put writes a key through the bucket's JetStream subject so the write is bound to ctx.
func (b *buckets) put(ctx context.Context, kv nats.KeyValue, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultWriteTimeout)
		defer cancel()
	}

	_, err := b.js.Publish(fmt.Sprintf("$KV.%s.%s", kv.Bucket(), key), value, nats.Context(ctx))

	return err
}

func createBuckets(js nats.JetStreamContext, opt NatsOptions) (buckets, error) {
	var (
		b   = buckets{js: js}
		err error
	)

	if b.status, err = js.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:  opt.StatusBucket,
		History: 1,
		Storage: nats.MemoryStorage,
	}); err != nil {
		return b, fmt.Errorf("status bucket: %w", err)
	}

	if b.wills, err = js.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:  opt.WillBucket,
		History: 1,
		Storage: nats.MemoryStorage,
	}); err != nil {
		return b, fmt.Errorf("will bucket: %w", err)
	}

	if b.conns, err = js.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:  opt.ConnBucket,
		History: 1,
		TTL:     opt.ConnTTL,
		Storage: nats.MemoryStorage,
	}); err != nil {
		return b, fmt.Errorf("conn bucket: %w", err)
	}

	return b, nil
}

// NatsChannel is an EphemeralChannel over NATS JetStream key-value buckets.
//
// Values live in the status bucket. Armed on-disconnect values live in the will
// bucket and are applied by a Sweeper once every connection key of the user has
// expired from the conn bucket. This connection keeps its conn keys alive with a
// heartbeat while it holds armed wills.
type NatsChannel struct {
	opt    NatsOptions
	connID string

	mx        sync.Mutex
	nc        *nats.Conn
	kv        *buckets
	suspended bool
	armed     map[string]struct{}
	stopBeat  context.CancelFunc
	connected *flag
}

func NewNats(opt NatsOptions) (*NatsChannel, error) {
	c := &NatsChannel{
		opt:       opt.withDefaults(),
		connID:    uuid.NewString(),
		armed:     make(map[string]struct{}),
		connected: newFlag(false),
	}

	if err := c.connect(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *NatsChannel) connect() error {
	opts := []nats.Option{
		nats.Name(c.opt.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if !c.isCurrent(nc) {
				return
			}

			zap.S().Warnw("nats disconnected",
				"error", err,
			)
			c.connected.set(false)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			if !c.isCurrent(nc) {
				return
			}

			zap.S().Infow("nats reconnected",
				"url", nc.ConnectedUrl(),
			)
			c.connected.set(true)
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			if c.isCurrent(nc) {
				c.connected.set(false)
			}
		}),
	}

	if c.opt.User != "" {
		opts = append(opts, nats.UserInfo(c.opt.User, c.opt.Password))
	}

	nc, err := nats.Connect(c.opt.URL, opts...)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return fmt.Errorf("nats jetstream: %w", err)
	}

	kv, err := createBuckets(js, c.opt)
	if err != nil {
		nc.Close()
		return err
	}

	c.mx.Lock()
	c.nc = nc
	c.kv = &kv
	c.suspended = false
	c.mx.Unlock()

	c.connected.set(nc.IsConnected())

	zap.S().Infow("nats, ok",
		"url", nc.ConnectedUrl(),
		"conn_id", c.connID,
	)

	return nil
}

func (c *NatsChannel) isCurrent(nc *nats.Conn) bool {
	c.mx.Lock()
	defer c.mx.Unlock()

	return c.nc == nc
}

func (c *NatsChannel) buckets() (*buckets, error) {
	c.mx.Lock()
	defer c.mx.Unlock()

	if c.suspended || c.nc == nil || c.kv == nil || !c.nc.IsConnected() {
		return nil, instance.ErrChannelOffline
	}

	return c.kv, nil
}

// Conn returns the current connection, or nil while suspended.
func (c *NatsChannel) Conn() *nats.Conn {
	c.mx.Lock()
	defer c.mx.Unlock()

	return c.nc
}

// Set implements instance.EphemeralChannel
func (c *NatsChannel) Set(ctx context.Context, userID string, status structures.EphemeralStatus) error {
	if err := checkUserID(userID); err != nil {
		return err
	}

	kv, err := c.buckets()
	if err != nil {
		return err
	}

	b, err := encodeStatus(status)
	if err != nil {
		return err
	}

	return mapError(kv.put(ctx, kv.status, userID, b))
}

// ArmOnDisconnect implements instance.EphemeralChannel
func (c *NatsChannel) ArmOnDisconnect(ctx context.Context, userID string, status structures.EphemeralStatus) error {
	if err := checkUserID(userID); err != nil {
		return err
	}

	kv, err := c.buckets()
	if err != nil {
		return err
	}

	b, err := encodeStatus(status)
	if err != nil {
		return err
	}

	// the liveness key goes first so a sweeper never sees the will without it
	if err := kv.put(ctx, kv.conns, connKey(userID, c.connID), []byte("{}")); err != nil {
		return mapError(err)
	}

	if err := kv.put(ctx, kv.wills, userID, b); err != nil {
		return mapError(err)
	}

	c.mx.Lock()
	c.armed[userID] = struct{}{}
	if c.stopBeat == nil {
		beatCtx, cancel := context.WithCancel(context.Background())
		c.stopBeat = cancel
		go c.heartbeat(beatCtx, kv)
	}
	c.mx.Unlock()

	return nil
}

func (c *NatsChannel) heartbeat(ctx context.Context, kv *buckets) {
	ticker := time.NewTicker(c.opt.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.mx.Lock()
		users := make([]string, 0, len(c.armed))
		for userID := range c.armed {
			users = append(users, userID)
		}
		c.mx.Unlock()

		for _, userID := range users {
			if !c.isArmed(userID) {
				continue
			}

			if _, err := kv.conns.Put(connKey(userID, c.connID), []byte("{}")); err != nil {
				zap.S().Debugw("nats, heartbeat failed",
					"user_id", userID,
					"error", err,
				)
			}
		}
	}
}

func (c *NatsChannel) isArmed(userID string) bool {
	c.mx.Lock()
	defer c.mx.Unlock()

	_, ok := c.armed[userID]

	return ok
}

// Disarm implements instance.EphemeralChannel. Only this connection's liveness key
// is removed; the will stays for the user's other connections, and a Sweeper applies
// it once none is left.
func (c *NatsChannel) Disarm(ctx context.Context, userID string) error {
	if err := checkUserID(userID); err != nil {
		return err
	}

	c.mx.Lock()
	_, armed := c.armed[userID]
	delete(c.armed, userID)
	c.mx.Unlock()

	if !armed {
		return nil
	}

	kv, err := c.buckets()
	if err != nil {
		return err
	}

	return mapError(kv.conns.Delete(connKey(userID, c.connID)))
}

// SubscribeConnectivity implements instance.EphemeralChannel
func (c *NatsChannel) SubscribeConnectivity() (<-chan bool, instance.Unsubscribe, error) {
	ch, unsub := c.connected.subscribe()
	return ch, unsub, nil
}

// Connected implements instance.EphemeralChannel
func (c *NatsChannel) Connected() bool {
	c.mx.Lock()
	defer c.mx.Unlock()

	return !c.suspended && c.nc != nil && c.nc.IsConnected()
}

// Suspend implements instance.EphemeralChannel. Wills armed by this connection
// are applied and its liveness keys removed before the connection drains.
func (c *NatsChannel) Suspend(ctx context.Context) error {
	c.mx.Lock()
	if c.suspended {
		c.mx.Unlock()
		return nil
	}

	c.suspended = true
	nc, kv := c.nc, c.kv
	c.nc, c.kv = nil, nil

	users := make([]string, 0, len(c.armed))
	for userID := range c.armed {
		users = append(users, userID)
	}
	c.armed = make(map[string]struct{})

	if c.stopBeat != nil {
		c.stopBeat()
		c.stopBeat = nil
	}
	c.mx.Unlock()

	c.connected.set(false)

	var err error

	if kv != nil {
		for _, userID := range users {
			if _, applyErr := applyWill(*kv, userID, c.opt.Now()); applyErr != nil {
				err = multierr.Append(err, applyErr)
			}

			if delErr := kv.conns.Delete(connKey(userID, c.connID)); delErr != nil {
				err = multierr.Append(err, delErr)
			}
		}
	}

	if nc != nil {
		err = multierr.Append(err, nc.Drain())
	}

	return err
}

// Resume implements instance.EphemeralChannel
func (c *NatsChannel) Resume(ctx context.Context) error {
	c.mx.Lock()
	active := !c.suspended && c.nc != nil
	c.mx.Unlock()

	if active {
		return nil
	}

	return c.connect()
}

func (c *NatsChannel) Close() error {
	return c.Suspend(context.Background())
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, nats.ErrNoResponders),
		errors.Is(err, nats.ErrNoStreamResponse),
		errors.Is(err, nats.ErrJetStreamNotEnabled):
		return fmt.Errorf("%w: %v", instance.ErrStreamNotReady, err)
	case errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrConnectionDraining),
		errors.Is(err, nats.ErrConnectionReconnecting):
		return fmt.Errorf("%w: %v", instance.ErrChannelOffline, err)
	}

	return err
}
