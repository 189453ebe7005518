package guest

import (
	"context"
	"io"

	"go.uber.org/zap"

	"levelrpc/hostset"
)

// Dialer opens a transport to a discovered host address.
type Dialer func(ctx context.Context, addr string) (io.ReadWriter, error)

// Redialer drives a DB's AttachRPC against whichever host address a
// HostSet's Registry+Balancer currently prefers, redialing through the
// HostSet every time the guest observes its transport disconnect. This is
// the supervisor that turns hostset's address discovery into actual
// reconnect behavior: AttachRPC itself only ever knows how to attach a
// single already-open io.ReadWriter, so picking *which* address to open
// next lives here, one level up.
type Redialer struct {
	DB       *DB
	Registry hostset.Registry
	Balancer hostset.Balancer
	Database string // name passed to Registry.Discover
	Dial     Dialer
	Logger   *zap.Logger
}

func (r *Redialer) logger() *zap.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return zap.NewNop()
}

// Run attaches once and then keeps reattaching via the HostSet on every
// disconnect, until ctx is canceled or the DB is closed (AttachRPC then
// returns lverr.ErrNotSupported and Run stops).
func (r *Redialer) Run(ctx context.Context) error {
	for {
		if err := r.attachOnce(ctx); err != nil {
			return err
		}
		select {
		case <-r.DB.Disconnected():
			r.logger().Info("levelrpc: transport disconnected, redialing via hostset")
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// attachOnce discovers the current instance set for Database, picks one via
// Balancer, dials it, and attaches it to DB.
func (r *Redialer) attachOnce(ctx context.Context) error {
	instances, err := r.Registry.Discover(r.Database)
	if err != nil {
		return err
	}
	inst, err := r.Balancer.Pick(instances)
	if err != nil {
		return err
	}
	rw, err := r.Dial(ctx, inst.Addr)
	if err != nil {
		return err
	}
	return r.DB.AttachRPC(ctx, rw)
}
