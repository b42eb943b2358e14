package global

import (
	"github.com/farmlink/presence/internal/instance"
	"github.com/farmlink/presence/internal/svc/lifecycle"
	"github.com/farmlink/presence/internal/svc/mongo"
	"github.com/farmlink/presence/internal/svc/presences"
	"github.com/farmlink/presence/internal/svc/session"
)

type Instances struct {
	Mongo      mongo.Instance
	Durable    instance.DurableStore
	Channel    instance.EphemeralChannel
	Prometheus instance.Prometheus

	Sessions  *session.Source
	Lifecycle *lifecycle.Source
	Presences *presences.Reconciler
}
