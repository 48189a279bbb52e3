package session

import (
	"context"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"

	"github.com/example/freshmart/pkg/store"
)

// sessionActor serialises all cart and checkout requests of one session.
type sessionActor struct {
	session *store.Session
	idle    time.Duration
	timeout time.Duration
	onIdle  func(key string, pid *actor.PID)
	logger  *zap.Logger
}

func (a *sessionActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		if a.idle > 0 {
			ctx.SetReceiveTimeout(a.idle)
		}
		a.logger.Debug("Session actor started")

	case *actor.ReceiveTimeout:
		a.logger.Info("Session idle, stopping", zap.Duration("idle", a.idle))
		a.onIdle(a.session.Key(), ctx.Self())
		ctx.Stop(ctx.Self())

	case *actor.Stopped:
		a.logger.Debug("Session actor stopped")

	case *AddItem:
		c, cancel := a.context()
		defer cancel()
		err := a.session.Cart().Add(c, msg.ProductID)
		ctx.Respond(a.cartReply(c, err))

	case *UpdateItem:
		c, cancel := a.context()
		defer cancel()
		err := a.session.Cart().UpdateQuantity(c, msg.ProductID, msg.Quantity)
		ctx.Respond(a.cartReply(c, err))

	case *RemoveItem:
		c, cancel := a.context()
		defer cancel()
		a.session.Cart().Remove(c, msg.ProductID)
		ctx.Respond(a.cartReply(c, nil))

	case *ClearCart:
		c, cancel := a.context()
		defer cancel()
		a.session.Cart().Clear(c)
		ctx.Respond(a.cartReply(c, nil))

	case *GetCart:
		c, cancel := a.context()
		defer cancel()
		ctx.Respond(a.cartReply(c, nil))

	case *Checkout:
		c, cancel := a.context()
		defer cancel()
		order, err := a.session.Checkout(c, msg.Actor, msg.Info)
		ctx.Respond(&CheckoutReply{Order: order, Err: err})
	}
}

func (a *sessionActor) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), a.timeout)
}

func (a *sessionActor) cartReply(ctx context.Context, err error) *CartReply {
	if err != nil {
		return &CartReply{Err: err}
	}
	view, err := a.session.Cart().View(ctx)
	return &CartReply{View: view, Err: err}
}
