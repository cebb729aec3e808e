package server

import (
	"log"
	"time"
)

// Reconciler periodically asks the relay server to sweep stale presence
// state. It only drives the timer; the sweep itself runs on the relay's
// run loop so it never races joins and leaves.
type Reconciler struct {
	relay    *RelayServer
	interval time.Duration
	log      *log.Logger
	stop     chan struct{}
	done     chan struct{}
}

func NewReconciler(rs *RelayServer, interval time.Duration, logger *log.Logger) *Reconciler {
	return &Reconciler{
		relay:    rs,
		interval: interval,
		log:      logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (r *Reconciler) Run() {
	r.log.Printf("starting reconciler, sweep every %s", r.interval)
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.relay.requestSweep(time.Now())
		case <-r.stop:
			return
		}
	}
}

func (r *Reconciler) Stop() {
	close(r.stop)
	<-r.done
}
