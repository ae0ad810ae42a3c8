// Package device maintains a live model of one printer group, polling its
// status over the LAN or through the cloud and reconciling the results into
// observable printer and job objects.
package device

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/printnest/printnest/internal/metrics"
	"github.com/printnest/printnest/internal/upload"
	"github.com/printnest/printnest/pkg/models"
	"github.com/printnest/printnest/pkg/plugin"
)

// State is the connection state of an output device.
type State string

const (
	StateClosed     State = "closed"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateError      State = "error"
)

// Event topics published on the bus.
const (
	TopicStateChanged   = "device.state_changed"
	TopicPrinterAdded   = "device.printer_added"
	TopicPrinterRemoved = "device.printer_removed"
	TopicJobAdded       = "device.job_added"
	TopicJobRemoved     = "device.job_removed"
	TopicModelChanged   = "device.model_changed"
	TopicMessage        = "device.message"
)

// Message is a user-visible notice carried on TopicMessage.
type Message struct {
	Title string
	Text  string
}

const (
	// MinPollInterval is the floor for the poll cadence; configs asking
	// for less are clamped up.
	MinPollInterval = 10 * time.Second

	// offlineAfter is how long a device may go without a successful poll
	// before it is considered offline.
	offlineAfter = 30 * time.Second

	// maxEmptyPolls closes a device that keeps answering with zero
	// printers: the host responds but is not a cluster host.
	maxEmptyPolls = 3
)

// Snapshot is one poll's worth of cluster state.
type Snapshot struct {
	Printers  []*models.Printer
	PrintJobs []*models.PrintJob
}

// Device is the transport-independent half of an output device. LocalDevice
// and CloudDevice supply the fetch function and the actions.
type Device struct {
	key       string
	transport string // metrics label: "lan" or "cloud"
	bus       plugin.EventBus
	logger    *zap.Logger
	metrics   *metrics.Set
	interval  time.Duration

	fetch             func(ctx context.Context) (*Snapshot, error)
	afterPoll         func(ctx context.Context)
	onFirstConnect    func(ctx context.Context)
	closeOnEmptyPolls bool

	mu            sync.RWMutex
	state         State
	printers      map[string]*models.Printer
	jobs          map[string]*models.PrintJob
	printerOrder  []string
	jobOrder      []string
	unsubscribe   map[string]func()
	lastSeen      time.Time
	emptyPolls    int
	everConnected bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

func newDevice(key, transport string, bus plugin.EventBus, logger *zap.Logger, m *metrics.Set, interval time.Duration) *Device {
	if m == nil {
		m = metrics.NewNop()
	}
	if interval < MinPollInterval {
		interval = MinPollInterval
	}
	return &Device{
		key:         key,
		transport:   transport,
		bus:         bus,
		logger:      logger.With(zap.String("device", key)),
		metrics:     m,
		interval:    interval,
		state:       StateClosed,
		printers:    make(map[string]*models.Printer),
		jobs:        make(map[string]*models.PrintJob),
		unsubscribe: make(map[string]func()),
		now:         time.Now,
	}
}

// Key returns the device's stable identity (the network key or cluster id).
func (d *Device) Key() string { return d.key }

// State returns the current connection state.
func (d *Device) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Printers returns the printers in response order.
func (d *Device) Printers() []*models.Printer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*models.Printer, 0, len(d.printerOrder))
	for _, id := range d.printerOrder {
		out = append(out, d.printers[id])
	}
	return out
}

// PrintJobs returns all jobs in response order.
func (d *Device) PrintJobs() []*models.PrintJob {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*models.PrintJob, 0, len(d.jobOrder))
	for _, id := range d.jobOrder {
		out = append(out, d.jobs[id])
	}
	return out
}

// QueuedPrintJobs returns the jobs waiting in the queue.
func (d *Device) QueuedPrintJobs() []*models.PrintJob {
	var out []*models.PrintJob
	for _, j := range d.PrintJobs() {
		if j.InQueue() {
			out = append(out, j)
		}
	}
	return out
}

// ActivePrintJobs returns the jobs bound to a printer and past the queue.
func (d *Device) ActivePrintJobs() []*models.PrintJob {
	var out []*models.PrintJob
	for _, j := range d.PrintJobs() {
		if j.Active() {
			out = append(out, j)
		}
	}
	return out
}

// Printer returns one printer by uuid.
func (d *Device) Printer(uuid string) (*models.Printer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.printers[uuid]
	return p, ok
}

// Connect starts the poll loop. The device reports StateConnecting until
// the first successful poll.
func (d *Device) Connect(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	d.mu.Lock()
	if d.cancel != nil {
		d.mu.Unlock()
		cancel()
		return
	}
	d.cancel = cancel
	d.lastSeen = d.now()
	d.mu.Unlock()

	d.setState(StateConnecting)

	d.wg.Add(1)
	go d.loop(ctx)
}

// Close stops polling and marks the device closed.
func (d *Device) Close() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	d.wg.Wait()
	d.setState(StateClosed)
}

func (d *Device) loop(ctx context.Context) {
	defer d.wg.Done()

	d.pollOnce(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.pollOnce(ctx)
			d.checkWatchdog()
		}
	}
}

func (d *Device) pollOnce(ctx context.Context) {
	d.metrics.PollsTotal.WithLabelValues(d.transport).Inc()

	snap, err := d.fetch(ctx)
	if err != nil {
		d.metrics.PollFailures.WithLabelValues(d.transport).Inc()
		d.logger.Debug("poll failed", zap.Error(err))
		return
	}

	d.mu.Lock()
	d.lastSeen = d.now()
	if d.closeOnEmptyPolls && len(snap.Printers) == 0 {
		d.emptyPolls++
		if d.emptyPolls >= maxEmptyPolls {
			d.mu.Unlock()
			d.logger.Info("host answers but reports no printers, closing")
			d.publish(TopicMessage, Message{
				Title: "Not a group host",
				Text:  "The printer at " + d.key + " responds but is not hosting a group.",
			})
			go d.Close()
			return
		}
		d.mu.Unlock()
		return
	}
	d.emptyPolls = 0
	first := !d.everConnected
	d.everConnected = true
	d.mu.Unlock()

	d.reconcile(ctx, snap)
	d.setState(StateConnected)

	if first && d.onFirstConnect != nil {
		d.onFirstConnect(ctx)
	}
	if d.afterPoll != nil {
		d.afterPoll(ctx)
	}
}

// checkWatchdog closes the device when polls have not succeeded for the
// offline window. Polling continues as the reconnection attempt; a later
// success restores Connected without losing the model tree.
func (d *Device) checkWatchdog() {
	d.mu.RLock()
	stale := d.state == StateConnected && d.now().Sub(d.lastSeen) > offlineAfter
	d.mu.RUnlock()

	if stale {
		d.logger.Info("no response within offline window")
		d.setState(StateClosed)
	}
}

func (d *Device) setState(s State) {
	d.mu.Lock()
	if d.state == s {
		d.mu.Unlock()
		return
	}
	old := d.state
	d.state = s
	d.mu.Unlock()

	if s == StateConnected {
		d.metrics.DevicesOnline.Inc()
	} else if old == StateConnected {
		d.metrics.DevicesOnline.Dec()
	}

	d.logger.Info("device state changed",
		zap.String("from", string(old)),
		zap.String("to", string(s)),
	)
	d.publish(TopicStateChanged, s)
}

// reportUpload turns an upload outcome into a user-visible message. A
// canceled upload stays quiet.
func (d *Device) reportUpload(jobName string, err error) {
	switch {
	case err == nil:
		d.publish(TopicMessage, Message{
			Title: "Print job sent",
			Text:  jobName + " was sent to the printer.",
		})
	case errors.Is(err, context.Canceled):
	case errors.Is(err, upload.ErrBusy):
		d.publish(TopicMessage, Message{
			Title: "Upload blocked",
			Text:  "Another print job is still being sent to this printer.",
		})
	case errors.Is(err, upload.ErrQueueFull):
		d.publish(TopicMessage, Message{
			Title: "Queue full",
			Text:  "The print queue is full. Remove jobs from the queue before sending " + jobName + ".",
		})
	default:
		d.publish(TopicMessage, Message{
			Title: "Upload failed",
			Text:  "Could not send " + jobName + ": " + err.Error(),
		})
	}
}

func (d *Device) publish(topic string, payload any) {
	if d.bus == nil {
		return
	}
	d.bus.PublishAsync(context.Background(), plugin.Event{
		Topic:     topic,
		Source:    d.key,
		Timestamp: d.now(),
		Payload:   payload,
	})
}
