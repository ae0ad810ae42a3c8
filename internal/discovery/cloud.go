package discovery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/printnest/printnest/internal/cloudapi"
	"github.com/printnest/printnest/internal/config"
	"github.com/printnest/printnest/internal/device"
	"github.com/printnest/printnest/internal/machine"
	"github.com/printnest/printnest/internal/metrics"
	"github.com/printnest/printnest/internal/transport"
	"github.com/printnest/printnest/internal/upload"
	"github.com/printnest/printnest/pkg/models"
	"github.com/printnest/printnest/pkg/plugin"
)

// defaultSyncInterval is how often the cloud cluster list is refreshed.
const defaultSyncInterval = 30 * time.Second

// newPrinterNameCap bounds how many cluster names one notification spells
// out; the rest are folded into a count.
const newPrinterNameCap = 3

// cloudClient is everything the cloud manager needs from the API client.
type cloudClient interface {
	GetClusters(ctx context.Context) ([]models.Cluster, error)
	GetClusterStatus(ctx context.Context, clusterID string) (*cloudapi.ClusterStatus, error)
	DoPrintJobAction(ctx context.Context, clusterID, clusterJobID, action string, data map[string]any) error
	RequestUpload(ctx context.Context, jobName string, fileSize int, contentType string) (*cloudapi.UploadTarget, error)
	RequestPrint(ctx context.Context, clusterID, jobID string) error
}

// account is the login-state collaborator.
type account interface {
	IsLoggedIn() bool
}

// CloudManager mirrors the user's cloud clusters into output devices and
// keeps the configured machines' cloud bindings current.
type CloudManager struct {
	bus     plugin.EventBus
	client  cloudClient
	account account
	store   machineStore
	metrics *metrics.Set

	logger    *zap.Logger
	transport *transport.Client
	interval  time.Duration

	syncing atomic.Bool

	mu         sync.Mutex
	devices    map[string]*device.CloudDevice
	known      map[string]bool // cluster ids ever seen this session
	discovered map[string]models.Cluster
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewCloudManager creates the cloud discovery plugin.
func NewCloudManager(bus plugin.EventBus, client cloudClient, acct account, store machineStore, m *metrics.Set) *CloudManager {
	if m == nil {
		m = metrics.NewNop()
	}
	return &CloudManager{
		bus:        bus,
		client:     client,
		account:    acct,
		store:      store,
		metrics:    m,
		interval:   defaultSyncInterval,
		devices:    make(map[string]*device.CloudDevice),
		known:      make(map[string]bool),
		discovered: make(map[string]models.Cluster),
		ctx:        context.Background(),
	}
}

func (m *CloudManager) Name() string    { return "discovery.cloud" }
func (m *CloudManager) Version() string { return "1.0.0" }

// Init wires configuration and logging.
func (m *CloudManager) Init(v *viper.Viper, logger *zap.Logger) error {
	cfg := config.New(v)
	if d := cfg.GetDuration("sync_interval"); d >= 10*time.Second {
		m.interval = d
	}
	m.logger = logger.Named("discovery.cloud")
	m.transport = transport.New(m.logger)
	return nil
}

// Start launches the periodic cluster sync.
func (m *CloudManager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.SyncOnce(m.ctx)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.SyncOnce(m.ctx)
			}
		}
	}()
	return nil
}

// Stop halts syncing and closes every cloud device.
func (m *CloudManager) Stop() error {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	m.mu.Lock()
	devices := make([]*device.CloudDevice, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, d)
	}
	m.devices = make(map[string]*device.CloudDevice)
	m.mu.Unlock()

	for _, d := range devices {
		d.Close()
	}
	return nil
}

// SyncOnce refreshes the cluster list and reconciles devices and machine
// records against it. Overlapping calls collapse to one.
func (m *CloudManager) SyncOnce(ctx context.Context) {
	if !m.syncing.CompareAndSwap(false, true) {
		return
	}
	defer m.syncing.Store(false)

	if !m.account.IsLoggedIn() {
		m.closeAll()
		return
	}

	clusters, err := m.client.GetClusters(ctx)
	if err != nil {
		m.logger.Debug("cluster sync failed", zap.Error(err))
		return
	}

	byID := make(map[string]models.Cluster, len(clusters))
	byHostGUID := make(map[string]models.Cluster)
	for _, c := range clusters {
		byID[c.ClusterID] = c
		if c.HostGUID != "" {
			byHostGUID[c.HostGUID] = c
		}
	}

	m.reconcileMachines(ctx, byID, byHostGUID)
	m.reconcileDevices(ctx, clusters, byID)
}

// reconcileMachines walks the configured machines and repairs their cloud
// bindings: rotated cluster ids are rewritten in place, machines whose
// cluster left the account get a removal warning.
func (m *CloudManager) reconcileMachines(ctx context.Context, byID, byHostGUID map[string]models.Cluster) {
	machines, err := m.store.All(ctx)
	if err != nil {
		m.logger.Warn("machine store unavailable", zap.Error(err))
		return
	}

	for _, mach := range machines {
		clusterID := mach.Meta(machine.KeyCloudClusterID)
		if clusterID == "" {
			continue
		}

		if cluster, ok := byID[clusterID]; ok {
			m.bindMachine(ctx, mach, cluster)
			continue
		}

		// The server reissues cluster ids; the host hardware id is the
		// stable identity that survives the rotation.
		if cluster, ok := byHostGUID[mach.Meta(machine.KeyHostGUID)]; ok {
			m.logger.Info("cluster id rotated",
				zap.String("machine", mach.ID),
				zap.String("old", clusterID),
				zap.String("new", cluster.ClusterID),
			)
			m.store.SetMetadata(ctx, mach.ID, machine.KeyCloudClusterID, cluster.ClusterID)
			m.bindMachine(ctx, mach, cluster)
			continue
		}

		m.store.SetMetadata(ctx, mach.ID, machine.KeyIsOnline, "false")
		if mach.Meta(machine.KeyRemovalWarning) == "true" {
			continue
		}
		m.store.SetMetadata(ctx, mach.ID, machine.KeyLinkedToAccount, "false")
		m.store.SetMetadata(ctx, mach.ID, machine.KeyRemovalWarning, "true")
		m.publish(TopicMessage, Message{
			Title:     "Printer removed from your account",
			Text:      fmt.Sprintf("%s is no longer linked to your account. Keep its configuration or remove it.", mach.Name),
			Actions:   []string{"keep", "remove"},
			MachineID: mach.ID,
		})
	}
}

// bindMachine refreshes a machine's metadata from its live cluster record.
func (m *CloudManager) bindMachine(ctx context.Context, mach *machine.Machine, cluster models.Cluster) {
	online := "false"
	if cluster.IsOnline {
		online = "true"
	}
	m.store.SetMetadata(ctx, mach.ID, machine.KeyIsOnline, online)
	m.store.SetMetadata(ctx, mach.ID, machine.KeyHostGUID, cluster.HostGUID)
	m.store.SetMetadata(ctx, mach.ID, machine.KeyGroupName, cluster.FriendlyName)
	m.store.SetMetadata(ctx, mach.ID, machine.KeyGroupSize, fmt.Sprintf("%d", cluster.PrinterCount))
	m.store.SetMetadata(ctx, mach.ID, machine.KeyLinkedToAccount, "true")
	m.store.SetMetadata(ctx, mach.ID, machine.KeyRemovalWarning, "")
}

// reconcileDevices creates devices for online clusters, closes devices for
// gone or offline ones, and announces clusters never seen this session.
func (m *CloudManager) reconcileDevices(ctx context.Context, clusters []models.Cluster, byID map[string]models.Cluster) {
	var newNames []string
	unlinked := make(map[string]models.Cluster)

	for _, cluster := range clusters {
		m.mu.Lock()
		_, exists := m.devices[cluster.ClusterID]
		seen := m.known[cluster.ClusterID]
		m.known[cluster.ClusterID] = true
		m.mu.Unlock()

		if !m.isConfigured(ctx, cluster) {
			unlinked[cluster.ClusterID] = cluster
			if !seen {
				newNames = append(newNames, cluster.FriendlyName)
			}
		}

		switch {
		case cluster.IsOnline && !exists:
			m.addDevice(cluster)
		case !cluster.IsOnline && exists:
			m.removeDevice(cluster.ClusterID)
		}
	}

	// Devices whose cluster left the account entirely.
	m.mu.Lock()
	var gone []string
	for id := range m.devices {
		if _, ok := byID[id]; !ok {
			gone = append(gone, id)
		}
	}
	m.mu.Unlock()
	for _, id := range gone {
		m.removeDevice(id)
	}

	m.mu.Lock()
	m.discovered = unlinked
	m.mu.Unlock()

	if len(newNames) > 0 {
		m.publish(TopicMessage, Message{
			Title: "New cloud printers found",
			Text:  summarizeNames(newNames),
		})
	}
}

// Discovered returns the account's clusters that are not linked to any
// configured machine, as of the last sync, sorted by name.
func (m *CloudManager) Discovered() []models.Cluster {
	m.mu.Lock()
	out := make([]models.Cluster, 0, len(m.discovered))
	for _, c := range m.discovered {
		out = append(out, c)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].FriendlyName < out[j].FriendlyName })
	return out
}

func (m *CloudManager) isConfigured(ctx context.Context, cluster models.Cluster) bool {
	machines, err := m.store.FindByMetadata(ctx, machine.KeyCloudClusterID, cluster.ClusterID)
	if err == nil && len(machines) > 0 {
		return true
	}
	if cluster.HostGUID == "" {
		return false
	}
	machines, err = m.store.FindByMetadata(ctx, machine.KeyHostGUID, cluster.HostGUID)
	return err == nil && len(machines) > 0
}

func (m *CloudManager) addDevice(cluster models.Cluster) {
	uploader := upload.NewCloud(m.client, m.transport, cluster.ClusterID, m.logger, m.metrics)
	d := device.NewCloud(cluster, m.client, m.bus, m.logger, m.metrics,
		device.WithCloudUploader(uploader))

	m.mu.Lock()
	m.devices[cluster.ClusterID] = d
	m.mu.Unlock()

	d.Connect(m.ctx)
	m.metrics.DiscoveryEvents.WithLabelValues("cloud", "added").Inc()
	m.logger.Info("cloud device added",
		zap.String("cluster", cluster.ClusterID),
		zap.String("name", cluster.FriendlyName),
	)
	m.publish(TopicDeviceAdded, cluster.ClusterID)
}

func (m *CloudManager) removeDevice(clusterID string) {
	m.mu.Lock()
	d, ok := m.devices[clusterID]
	delete(m.devices, clusterID)
	m.mu.Unlock()
	if !ok {
		return
	}

	d.Close()
	m.metrics.DiscoveryEvents.WithLabelValues("cloud", "removed").Inc()
	m.logger.Info("cloud device removed", zap.String("cluster", clusterID))
	m.publish(TopicDeviceRemoved, clusterID)
}

func (m *CloudManager) closeAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.devices))
	for id := range m.devices {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.removeDevice(id)
	}
}

// Devices returns the live cloud devices.
func (m *CloudManager) Devices() []*device.CloudDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*device.CloudDevice, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	return out
}

// Device returns one device by cluster id.
func (m *CloudManager) Device(clusterID string) (*device.CloudDevice, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[clusterID]
	return d, ok
}

// KeepMachine clears a pending removal warning, keeping the configuration.
// The link flag was already dropped when the removal was detected.
func (m *CloudManager) KeepMachine(ctx context.Context, machineID string) error {
	return m.store.SetMetadata(ctx, machineID, machine.KeyRemovalWarning, "")
}

// UnlinkMachine drops a machine's cloud binding after the user chose to
// remove it.
func (m *CloudManager) UnlinkMachine(ctx context.Context, machineID string) error {
	for _, key := range []string{
		machine.KeyCloudClusterID,
		machine.KeyHostGUID,
		machine.KeyLinkedToAccount,
		machine.KeyRemovalWarning,
		machine.KeyIsOnline,
	} {
		if err := m.store.SetMetadata(ctx, machineID, key, ""); err != nil {
			return err
		}
	}
	return nil
}

func (m *CloudManager) publish(topic string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.PublishAsync(context.Background(), plugin.Event{
		Topic:   topic,
		Source:  m.Name(),
		Payload: payload,
	})
}

// summarizeNames renders the new-printer list, spelling out at most
// newPrinterNameCap names.
func summarizeNames(names []string) string {
	sort.Strings(names)
	if len(names) <= newPrinterNameCap {
		switch len(names) {
		case 1:
			return names[0]
		case 2:
			return names[0] + " and " + names[1]
		default:
			return fmt.Sprintf("%s, %s and %s", names[0], names[1], names[2])
		}
	}
	rest := len(names) - newPrinterNameCap
	return fmt.Sprintf("%s, %s, %s and %d others",
		names[0], names[1], names[2], rest)
}
