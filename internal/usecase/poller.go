package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// pollFunc performs one status check. It returns true once the
// transaction reached a terminal state and polling should stop.
type pollFunc func(ctx context.Context) bool

// Poller runs one background polling task per pending asynchronous
// transaction. Tasks are independent; cancelling one never touches
// another, and cancellation itself does not change transaction state.
type Poller struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup

	interval time.Duration
	// ceiling bounds the whole polling run; past it the task stops and
	// the transaction is left pending for manual reconciliation.
	ceiling time.Duration
	log     zerolog.Logger
}

func NewPoller(interval, ceiling time.Duration, log zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if ceiling <= 0 {
		ceiling = 30 * time.Minute
	}
	return &Poller{
		cancels:  map[string]context.CancelFunc{},
		interval: interval,
		ceiling:  ceiling,
		log:      log.With().Str("component", "poller").Logger(),
	}
}

// Start launches a polling task for the transaction. Starting an id
// that already has a task is a no-op.
func (p *Poller) Start(txID string, check pollFunc) {
	p.mu.Lock()
	if _, running := p.cancels[txID]; running {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.ceiling)
	p.cancels[txID] = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(ctx, txID, check)
}

func (p *Poller) run(ctx context.Context, txID string, check pollFunc) {
	defer p.wg.Done()
	defer p.remove(txID)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Debug().Str("tx_id", txID).Msg("polling stopped")
			return
		case <-ticker.C:
			if check(ctx) {
				return
			}
		}
	}
}

// Stop cancels the task for a transaction, if any.
func (p *Poller) Stop(txID string) {
	p.mu.Lock()
	cancel, ok := p.cancels[txID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// Active reports whether a polling task is currently registered.
func (p *Poller) Active(txID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.cancels[txID]
	return ok
}

// Shutdown cancels every task and waits for the goroutines to exit.
func (p *Poller) Shutdown() {
	p.mu.Lock()
	for _, cancel := range p.cancels {
		cancel()
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Poller) remove(txID string) {
	p.mu.Lock()
	if cancel, ok := p.cancels[txID]; ok {
		cancel()
		delete(p.cancels, txID)
	}
	p.mu.Unlock()
}
