// Package router resolves each consumed event to the sessions that should
// receive it. Framing is left to the transport.
package router

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cktan21/spm-relay/internal/event"
	"github.com/cktan21/spm-relay/internal/session"
)

// Sender is the transport. Encode frames a notification once per event and
// Send delivers that frame to one session. ws.Hub implements it.
type Sender interface {
	Encode(n event.Notification) ([]byte, error)
	Send(h session.Handle, frame []byte) error
}

// Result summarises one routing decision.
type Result struct {
	Target    string
	Broadcast bool
	Attempted int
	Delivered int
	Failed    int
}

type Router struct {
	registry *session.Registry
	sender   Sender
	logger   *zap.Logger
	now      func() time.Time
}

func New(registry *session.Registry, sender Sender, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{registry: registry, sender: sender, logger: logger, now: time.Now}
}

// Route delivers ev to every session of its target user, or to every
// registered session when the event names no user. A user with no live
// session is not an error.
func (r *Router) Route(_ context.Context, ev event.Raw) Result {
	var res Result
	log := r.logger.With(zap.String("event_type", ev.Type))

	var handles []session.Handle
	if target, ok := ev.TargetUserID(); ok {
		res.Target = target
		handles = r.registry.SessionsFor(target)
		if len(handles) == 0 {
			log.Info("no live session for user, dropping", zap.String("user_id", target))
			return res
		}
	} else {
		res.Broadcast = true
		handles = r.registry.All()
	}

	frame, err := r.sender.Encode(event.NewNotification(ev, r.now()))
	if err != nil {
		log.Error("encoding notification", zap.Error(err))
		res.Failed = len(handles)
		res.Attempted = len(handles)
		return res
	}

	for _, h := range handles {
		res.Attempted++
		if err := r.sender.Send(h, frame); err != nil {
			res.Failed++
			log.Warn("delivery failed", zap.String("handle", string(h)), zap.Error(err))
			continue
		}
		res.Delivered++
	}

	log.Debug("event routed",
		zap.String("user_id", res.Target),
		zap.Bool("broadcast", res.Broadcast),
		zap.Int("delivered", res.Delivered),
		zap.Int("failed", res.Failed))
	return res
}

// Handle lets the router serve as a broker.Handler. Every failure has
// already been logged per session, so it only errors when nothing was
// delivered to a non-empty audience.
func (r *Router) Handle(ctx context.Context, ev event.Raw) error {
	res := r.Route(ctx, ev)
	if res.Attempted > 0 && res.Delivered == 0 {
		return fmt.Errorf("%s: all %d deliveries failed", ev.Type, res.Failed)
	}
	return nil
}
