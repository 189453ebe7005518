// Package opmw provides the onion-model operation middleware levelrpc
// wraps store execution in, grounded on and adapted from the teacher's
// middleware package: the same Chain/Middleware/HandlerFunc shape, but
// retargeted from *message.RPCMessage (an arbitrary RPC call) to
// *Operation (one store operation the host or guest is about to run).
package opmw

import "context"

// Operation describes one store operation in flight. Run performs the
// actual work (a store.KV call, or on the guest side, request dispatch)
// and is invoked by the innermost handler; Err records its outcome so
// outer middleware layers can observe or override it.
type Operation struct {
	Name string
	Run  func() error
	Err  error
}

// HandlerFunc processes an Operation and returns it (same pointer,
// mutated), matching the teacher's HandlerFunc(ctx, req) *message.RPCMessage
// shape.
type HandlerFunc func(ctx context.Context, op *Operation) *Operation

// Middleware wraps a handler with additional behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// Exec is the innermost handler: it runs the operation and records the
// result.
func Exec(ctx context.Context, op *Operation) *Operation {
	op.Err = op.Run()
	return op
}

// Chain composes middlewares so the first one is the outermost layer,
// exactly as the teacher's middleware.Chain: Chain(A, B, C)(handler) is
// A(B(C(handler))).
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
