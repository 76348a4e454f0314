package render

import "sync"

// progressRelay forwards engine progress to a single consumer goroutine
// through a one-slot channel. When the consumer is behind, the pending value
// is replaced so only the latest fraction is delivered. Send never blocks.
type progressRelay struct {
	mu     sync.Mutex
	closed bool
	ch     chan float64
	done   chan struct{}
}

func newProgressRelay(consume func(float64)) *progressRelay {
	r := &progressRelay{
		ch:   make(chan float64, 1),
		done: make(chan struct{}),
	}
	go func() {
		defer close(r.done)
		for f := range r.ch {
			if consume != nil {
				consume(f)
			}
		}
	}()
	return r
}

// Send offers f to the consumer, replacing any value not yet consumed.
func (r *progressRelay) Send(f float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	for {
		select {
		case r.ch <- f:
			return
		default:
		}
		select {
		case <-r.ch:
		default:
		}
	}
}

// Close stops accepting values and waits for the consumer to drain.
func (r *progressRelay) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
	r.mu.Unlock()
	<-r.done
}
