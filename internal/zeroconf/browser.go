// Package zeroconf watches mDNS for printer cluster hosts and emits
// add/remove events with resolved addresses and TXT properties.
package zeroconf

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
	"go.uber.org/zap"
)

// DefaultServiceType is the mDNS service cluster hosts announce.
const DefaultServiceType = "_ultimaker._tcp"

// queueCapacity bounds the resolution queue. mDNS storms during network
// changes can burst far past normal traffic; when full, the oldest pending
// event is dropped with a log line rather than blocking the listener.
const queueCapacity = 64

// Service is a resolved mDNS service instance.
type Service struct {
	Name       string
	Address    string
	Properties map[string]string
}

// Handler receives browser events. Callbacks run on the browser's worker
// goroutine.
type Handler interface {
	ServiceAdded(s Service)
	ServiceRemoved(name string)
}

// queryFunc issues one mDNS query; swapped out in tests.
type queryFunc func(params *mdns.QueryParam) error

type pendingEvent struct {
	entry    *mdns.ServiceEntry
	attempts int
}

// Browser periodically queries for the service type, resolves each entry on
// a dedicated worker, and reports printers appearing and disappearing.
// Removal is synthesized when a known instance misses expiry intervals.
type Browser struct {
	serviceType string
	interval    time.Duration
	expiry      time.Duration
	retryBase   time.Duration
	handler     Handler
	logger      *zap.Logger
	query       queryFunc

	queue chan pendingEvent

	mu       sync.Mutex
	lastSeen map[string]time.Time // instance name -> last sighting
	known    map[string]bool      // instance name -> added event emitted

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Browser.
type Option func(*Browser)

// WithInterval sets the query cadence.
func WithInterval(d time.Duration) Option {
	return func(b *Browser) { b.interval = d }
}

// WithServiceType overrides the service type queried.
func WithServiceType(t string) Option {
	return func(b *Browser) { b.serviceType = t }
}

// withQueryFunc substitutes the mDNS query, for tests.
func withQueryFunc(q queryFunc) Option {
	return func(b *Browser) { b.query = q }
}

// New creates a browser delivering events to handler.
func New(handler Handler, logger *zap.Logger, opts ...Option) *Browser {
	b := &Browser{
		serviceType: DefaultServiceType,
		interval:    15 * time.Second,
		retryBase:   500 * time.Millisecond,
		handler:     handler,
		logger:      logger,
		query:       mdns.Query,
		queue:       make(chan pendingEvent, queueCapacity),
		lastSeen:    make(map[string]time.Time),
		known:       make(map[string]bool),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.expiry = 3 * b.interval
	return b
}

// Start launches the scan loop and the resolution worker. It returns
// immediately; Stop shuts both down.
func (b *Browser) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)

	b.wg.Add(2)
	go b.scanLoop(ctx)
	go b.resolveLoop(ctx)

	b.logger.Info("zeroconf browser started",
		zap.String("service", b.serviceType),
		zap.Duration("interval", b.interval),
	)
}

// Stop terminates the browser and waits for its goroutines.
func (b *Browser) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
	b.logger.Info("zeroconf browser stopped")
}

func (b *Browser) scanLoop(ctx context.Context) {
	defer b.wg.Done()

	b.scan(ctx)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.scan(ctx)
			b.expireStale()
		}
	}
}

// scan issues one query and enqueues every entry for resolution.
func (b *Browser) scan(ctx context.Context) {
	entries := make(chan *mdns.ServiceEntry, 16)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			if entry == nil {
				continue
			}
			b.enqueue(pendingEvent{entry: entry})
		}
	}()

	params := mdns.DefaultParams(b.serviceType)
	params.Timeout = 3 * time.Second
	params.Entries = entries
	params.DisableIPv6 = true

	if err := b.query(params); err != nil {
		b.logger.Debug("mDNS query failed", zap.Error(err))
	}
	close(entries)
	wg.Wait()
}

// enqueue adds an event to the bounded queue, dropping the oldest pending
// event when full.
func (b *Browser) enqueue(ev pendingEvent) {
	for {
		select {
		case b.queue <- ev:
			return
		default:
		}
		select {
		case dropped := <-b.queue:
			b.logger.Warn("resolution queue full, dropping oldest",
				zap.String("name", dropped.entry.Name))
		default:
		}
	}
}

func (b *Browser) resolveLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.queue:
			b.process(ctx, ev)
		}
	}
}

// process resolves one entry. Incomplete entries are re-queried and requeued
// with a growing delay until they resolve; events are only lost at shutdown
// or when the queue overflows.
func (b *Browser) process(ctx context.Context, ev pendingEvent) {
	entry := ev.entry
	svc, complete := b.resolve(entry)
	if !complete {
		b.requery(entry.Name)
		ev.attempts++
		b.logger.Debug("service not resolved yet, requeueing",
			zap.String("name", entry.Name),
			zap.Int("attempts", ev.attempts),
		)
		b.requeueAfter(ctx, ev, b.retryDelay(ev.attempts))
		return
	}

	b.mu.Lock()
	b.lastSeen[svc.Name] = time.Now()
	already := b.known[svc.Name]
	b.known[svc.Name] = true
	b.mu.Unlock()

	// Only hosts announcing themselves as printers become devices.
	if !already && svc.Properties["type"] == "printer" {
		b.logger.Info("printer service discovered",
			zap.String("name", svc.Name),
			zap.String("address", svc.Address),
		)
		b.handler.ServiceAdded(svc)
	}
}

// retryDelay grows linearly with the attempt count and caps at ten times the
// base so a host that never answers does not spin the worker.
func (b *Browser) retryDelay(attempts int) time.Duration {
	d := time.Duration(attempts) * b.retryBase
	if max := 10 * b.retryBase; d > max {
		d = max
	}
	return d
}

// requeueAfter puts ev back on the queue once delay elapses, unless the
// browser shuts down first.
func (b *Browser) requeueAfter(ctx context.Context, ev pendingEvent, delay time.Duration) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			b.enqueue(ev)
		}
	}()
}

// resolve extracts address and TXT properties from an entry. A service is
// complete when it carries both.
func (b *Browser) resolve(entry *mdns.ServiceEntry) (Service, bool) {
	svc := Service{
		Name:       instanceName(entry.Name, b.serviceType),
		Properties: parseTXT(entry.InfoFields),
	}
	if entry.AddrV4 != nil && !entry.AddrV4.IsUnspecified() {
		svc.Address = entry.AddrV4.String()
	} else if entry.Addr != nil && !entry.Addr.IsUnspecified() {
		svc.Address = entry.Addr.String()
	}
	if svc.Address == "" || len(svc.Properties) == 0 {
		return svc, false
	}
	return svc, true
}

// requery asks the network again for one instance, refreshing the cache a
// later resolution attempt reads from.
func (b *Browser) requery(name string) {
	params := mdns.DefaultParams(b.serviceType)
	params.Timeout = time.Second
	params.DisableIPv6 = true
	entries := make(chan *mdns.ServiceEntry, 4)
	params.Entries = entries
	go func() {
		for range entries {
		}
	}()
	if err := b.query(params); err != nil {
		b.logger.Debug("mDNS requery failed", zap.String("name", name), zap.Error(err))
	}
	close(entries)
}

// expireStale emits removals for instances unseen past the expiry window.
func (b *Browser) expireStale() {
	cutoff := time.Now().Add(-b.expiry)

	b.mu.Lock()
	var removed []string
	for name, seen := range b.lastSeen {
		if seen.Before(cutoff) {
			delete(b.lastSeen, name)
			if b.known[name] {
				delete(b.known, name)
				removed = append(removed, name)
			}
		}
	}
	b.mu.Unlock()

	for _, name := range removed {
		b.logger.Info("printer service expired", zap.String("name", name))
		b.handler.ServiceRemoved(name)
	}
}

// parseTXT converts mDNS TXT key=value fields into a map. Flag entries
// without '=' become empty-valued keys.
func parseTXT(fields []string) map[string]string {
	props := make(map[string]string, len(fields))
	for _, f := range fields {
		if f == "" {
			continue
		}
		if i := strings.IndexByte(f, '='); i >= 0 {
			props[f[:i]] = f[i+1:]
		} else {
			props[f] = ""
		}
	}
	return props
}

// instanceName strips the service-type and domain suffix from a full mDNS
// instance name.
func instanceName(full, serviceType string) string {
	name := strings.TrimSuffix(full, ".")
	if i := strings.Index(name, "."+serviceType); i >= 0 {
		return name[:i]
	}
	return name
}
