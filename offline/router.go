package offline

import "github.com/warp/reception-ledger/reception"

// Router picks the backend for a call from the current connectivity.
type Router struct {
	svc   *reception.Service
	queue *Queue
	conn  Connectivity
}

func NewRouter(svc *reception.Service, queue *Queue, conn Connectivity) *Router {
	return &Router{svc: svc, queue: queue, conn: conn}
}

// Deferrable returns the direct service when online, the queue otherwise.
func (r *Router) Deferrable() reception.Deferrable {
	if r.conn.Online() {
		return r.svc
	}
	return r.queue
}

// Online returns the direct service for operations that must read current
// state. Offline, it returns a no_network failure instead.
func (r *Router) Online() (*reception.Service, reception.Result) {
	if !r.conn.Online() {
		return nil, reception.Result{
			Failure: reception.FailOffline,
			Message: "this operation needs a connection to the store",
		}
	}
	return r.svc, reception.Result{}
}

// Workflows runs desk flows on the current backend.
func (r *Router) Workflows() *reception.Workflows {
	return r.svc.Workflows(r.Deferrable())
}

// Connectivity exposes the signal the router follows.
func (r *Router) Connectivity() Connectivity { return r.conn }
