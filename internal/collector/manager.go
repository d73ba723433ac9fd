package collector

import (
	"context"
	"log"
	"sync"
)

// Manager starts and stops a set of Collectors together, mirroring the
// teacher's ingester.Service worker fan-out but using a plain
// WaitGroup instead of errgroup's cancel-on-first-error semantics: one
// collector's failure must not take down the others, since each
// collector's own Start already isolates its own retry policy.
type Manager struct {
	collectors []Collector
}

func NewManager(collectors ...Collector) *Manager {
	return &Manager{collectors: collectors}
}

// Start runs every collector concurrently until ctx is cancelled. A
// collector whose Start returns an error is logged and dropped; the
// rest keep running.
func (m *Manager) Start(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, c := range m.collectors {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("collector: starting %s", c.Name())
			if err := c.Start(ctx); err != nil {
				log.Printf("collector %s: stopped: %v", c.Name(), err)
			}
		}()
	}
	wg.Wait()
	return nil
}

// Stop requests cooperative shutdown of every collector.
func (m *Manager) Stop() error {
	var firstErr error
	for _, c := range m.collectors {
		if err := c.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
