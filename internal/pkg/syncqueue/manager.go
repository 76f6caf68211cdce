package syncqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/housecrystal-18/shopscanner/internal/pkg/events"
	"github.com/housecrystal-18/shopscanner/internal/pkg/usagecounter"
)

const (
	flushInterval        = time.Minute
	counterFlushInterval = 5 * time.Second
)

// Manager owns the action queue, the connectivity watcher and the periodic
// flush workers.
type Manager struct {
	queue      *Queue
	dispatcher Dispatcher
	watcher    *Watcher

	flushTicker   *time.Ticker
	counterTicker *time.Ticker
	stopCh        chan struct{}
	wg            sync.WaitGroup
	mu            sync.Mutex
	running       bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global sync manager (singleton).
func GetManager() *Manager {
	managerOnce.Do(func() {
		bus := events.Default()
		globalManager = &Manager{
			queue:      NewQueue(),
			dispatcher: NewHTTPDispatcherFromEnv(),
			watcher:    NewWatcherFromEnv(bus),
			stopCh:     make(chan struct{}),
		}
		bus.SubscribeConnectivity(globalManager.onConnectivity)
	})
	return globalManager
}

// GetQueue returns the managed action queue.
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Online reports upstream reachability as last observed by the watcher.
func (m *Manager) Online() bool {
	return m.watcher.Online()
}

// Start launches the watcher and the flush workers.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[SyncQueue Manager] Starting watcher and flush workers")

	m.watcher.Start()

	m.flushTicker = time.NewTicker(flushInterval)
	m.wg.Add(1)
	go m.flushWorker()

	m.counterTicker = time.NewTicker(counterFlushInterval)
	m.wg.Add(1)
	go m.counterFlushWorker()

	log.Info("[SyncQueue Manager] Started successfully")
}

// Stop stops the watcher and flush workers.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[SyncQueue Manager] Stopping...")
	m.watcher.Stop()
	if m.flushTicker != nil {
		m.flushTicker.Stop()
	}
	if m.counterTicker != nil {
		m.counterTicker.Stop()
	}
	close(m.stopCh)
	m.running = false
	m.wg.Wait()
	log.Info("[SyncQueue Manager] Stopped")
}

// Flush replays the queue once.
func (m *Manager) Flush(ctx context.Context) (FlushResult, error) {
	return m.queue.Flush(ctx, m.dispatcher)
}

func (m *Manager) onConnectivity(ev events.ConnectivityEvent) {
	if !ev.Online {
		return
	}
	go func() {
		if _, err := m.Flush(context.Background()); err != nil {
			log.Errorf("[SyncQueue Manager] Reconnect flush failed: %v", err)
		}
	}()
}

// flushWorker periodically replays the queue while the upstream is online.
func (m *Manager) flushWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case <-m.flushTicker.C:
			if !m.watcher.Online() {
				continue
			}
			size, err := m.queue.Size(context.Background())
			if err != nil || size == 0 {
				continue
			}
			if _, err := m.Flush(context.Background()); err != nil {
				log.Errorf("[SyncQueue Manager] Periodic flush failed: %v", err)
			}
		}
	}
}

// counterFlushWorker drains pending usage deltas into the database.
func (m *Manager) counterFlushWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case <-m.counterTicker.C:
			if err := usagecounter.FlushAll(); err != nil {
				log.Errorf("[SyncQueue Manager] Usage counter flush failed: %v", err)
			}
		}
	}
}
