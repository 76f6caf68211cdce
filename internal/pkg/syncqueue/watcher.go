package syncqueue

import (
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/housecrystal-18/shopscanner/internal/pkg/env"
	"github.com/housecrystal-18/shopscanner/internal/pkg/events"
)

const (
	probeInterval = 15 * time.Second
	probeTimeout  = 5 * time.Second

	// Offline-to-online transitions are debounced so a single lucky probe
	// does not trigger a flush against a still-flapping upstream.
	onlineDebounce = time.Second
)

// Watcher probes the upstream backend and publishes connectivity
// transitions on the event bus.
type Watcher struct {
	probeURL string
	bus      *events.Bus
	client   *http.Client

	mu     sync.Mutex
	online bool

	stop     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher probing the given URL.
func NewWatcher(bus *events.Bus, probeURL string) *Watcher {
	return &Watcher{
		probeURL: probeURL,
		bus:      bus,
		client:   &http.Client{Timeout: probeTimeout},
		online:   true,
		stop:     make(chan struct{}),
	}
}

// NewWatcherFromEnv probes UPSTREAM_HEALTH_URL, falling back to the
// upstream base URL.
func NewWatcherFromEnv(bus *events.Bus) *Watcher {
	url := env.GetEnv("UPSTREAM_HEALTH_URL", "")
	if url == "" {
		url = env.GetEnv("UPSTREAM_BASE_URL", "http://localhost:4000") + "/health"
	}
	return NewWatcher(bus, url)
}

// Online reports the last observed state.
func (w *Watcher) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online
}

// Start runs the probe loop until Stop.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop terminates the probe loop. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *Watcher) loop() {
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	nowOnline := w.probe()

	w.mu.Lock()
	wasOnline := w.online
	w.mu.Unlock()

	if nowOnline == wasOnline {
		return
	}

	if !nowOnline {
		w.mu.Lock()
		w.online = false
		w.mu.Unlock()
		log.Warnf("[SyncQueue] Upstream unreachable: %s", w.probeURL)
		w.bus.PublishConnectivity(events.ConnectivityEvent{Online: false})
		return
	}

	// Confirm recovery after the debounce before announcing it.
	select {
	case <-w.stop:
		return
	case <-time.After(onlineDebounce):
	}
	if !w.probe() {
		return
	}

	w.mu.Lock()
	w.online = true
	w.mu.Unlock()
	log.Infof("[SyncQueue] Upstream reachable again: %s", w.probeURL)
	w.bus.PublishConnectivity(events.ConnectivityEvent{Online: true})
}

func (w *Watcher) probe() bool {
	resp, err := w.client.Head(w.probeURL)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}
