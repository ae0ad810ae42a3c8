// Package discovery turns printers found on the network and in the user's
// cloud account into connected output devices, and keeps the configured
// machine records in step with what was found.
package discovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/printnest/printnest/internal/config"
	"github.com/printnest/printnest/internal/defs"
	"github.com/printnest/printnest/internal/device"
	"github.com/printnest/printnest/internal/localapi"
	"github.com/printnest/printnest/internal/machine"
	"github.com/printnest/printnest/internal/material"
	"github.com/printnest/printnest/internal/metrics"
	"github.com/printnest/printnest/internal/transport"
	"github.com/printnest/printnest/internal/upload"
	"github.com/printnest/printnest/pkg/models"
	"github.com/printnest/printnest/pkg/plugin"
)

// Event topics published by the discovery managers.
const (
	TopicDeviceAdded   = "discovery.device_added"
	TopicDeviceRemoved = "discovery.device_removed"
	TopicMessage       = "discovery.message"
)

// Message is a user-visible notification carried on TopicMessage. Actions
// are choices the GUI offers back to the manager.
type Message struct {
	Title     string
	Text      string
	Actions   []string
	MachineID string
}

// machineStore is the slice of the machine database discovery maintains.
type machineStore interface {
	All(ctx context.Context) ([]*machine.Machine, error)
	FindByMetadata(ctx context.Context, key, value string) ([]*machine.Machine, error)
	SetMetadata(ctx context.Context, id, key, value string) error
	Credential(ctx context.Context, id string) (models.Credential, error)
	SetCredential(ctx context.Context, id string, cred models.Credential) error
}

// browser is the mDNS watcher the local manager drives.
type browser interface {
	Start(ctx context.Context)
	Stop()
}

// LocalManager watches mDNS for cluster hosts and manages one LocalDevice
// per discovered or manually-added host.
type LocalManager struct {
	bus     plugin.EventBus
	store   machineStore
	table   *defs.Table
	metrics *metrics.Set

	logger    *zap.Logger
	cfg       *config.Config
	transport *transport.Client
	browser   browser
	catalog   *material.Catalog

	mu        sync.Mutex
	activeKey string
	devices   map[string]*device.LocalDevice
	clients   map[string]*localapi.Client
	ctx       context.Context
	cancel    context.CancelFunc

	// newBrowser is swapped out in tests.
	newBrowser func(m *LocalManager) browser
}

// NewLocalManager creates the LAN discovery plugin.
func NewLocalManager(bus plugin.EventBus, store machineStore, table *defs.Table, m *metrics.Set) *LocalManager {
	if m == nil {
		m = metrics.NewNop()
	}
	return &LocalManager{
		bus:     bus,
		store:   store,
		table:   table,
		metrics: m,
		ctx:     context.Background(),
		devices: make(map[string]*device.LocalDevice),
		clients: make(map[string]*localapi.Client),
		newBrowser: func(lm *LocalManager) browser {
			return zeroconfBrowser(lm)
		},
	}
}

func (m *LocalManager) Name() string    { return "discovery.local" }
func (m *LocalManager) Version() string { return "1.0.0" }

// Init wires configuration and logging.
func (m *LocalManager) Init(v *viper.Viper, logger *zap.Logger) error {
	m.cfg = config.New(v)
	m.logger = logger.Named("discovery.local")
	m.transport = transport.New(m.logger)
	if dirs := m.cfg.MaterialDirs(); len(dirs) > 0 {
		m.catalog = material.LoadCatalog(dirs, m.logger)
	}
	return nil
}

// Start launches the mDNS browser and probes the manually-added instances.
func (m *LocalManager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.browser = m.newBrowser(m)
	m.browser.Start(m.ctx)

	for _, addr := range m.cfg.ManualInstances() {
		go m.probeManualInstance(m.ctx, addr)
	}
	return nil
}

// Stop closes the browser and every device.
func (m *LocalManager) Stop() error {
	if m.cancel != nil {
		m.cancel()
	}
	if m.browser != nil {
		m.browser.Stop()
	}

	m.mu.Lock()
	devices := make([]*device.LocalDevice, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, d)
	}
	m.devices = make(map[string]*device.LocalDevice)
	m.clients = make(map[string]*localapi.Client)
	m.mu.Unlock()

	for _, d := range devices {
		d.Close()
	}
	return nil
}

// ServiceAdded handles one mDNS sighting. Hosts that do not announce a
// cluster size are single printers without group firmware and are skipped.
func (m *LocalManager) ServiceAdded(s zeroconfService) {
	if _, ok := s.Properties["cluster_size"]; !ok {
		m.logger.Debug("host has no cluster firmware", zap.String("name", s.Name))
		return
	}

	def, ok := m.table.ByMachineValue(s.Properties["machine"])
	if !ok {
		m.logger.Debug("unknown machine type",
			zap.String("name", s.Name),
			zap.String("machine", s.Properties["machine"]),
		)
		return
	}
	if !def.SupportsNetwork {
		return
	}

	address := s.Address
	if a := s.Properties["address"]; a != "" {
		address = a
	}

	m.metrics.DiscoveryEvents.WithLabelValues("mdns", "added").Inc()
	m.addDevice(s.Name, address, def)
}

// ServiceRemoved handles an mDNS expiry.
func (m *LocalManager) ServiceRemoved(name string) {
	m.metrics.DiscoveryEvents.WithLabelValues("mdns", "removed").Inc()
	m.removeDevice(name)
}

// addDevice creates (or refreshes) the device for one host and reconciles
// it with the configured machine bound to the same network key.
func (m *LocalManager) addDevice(key, address string, def *defs.Definition) {
	m.mu.Lock()
	if d, ok := m.devices[key]; ok {
		m.mu.Unlock()
		// Same host back at a new address: rebuild the client.
		if d.Address() != "http://"+address {
			m.removeDevice(key)
			m.addDevice(key, address, def)
		}
		return
	}
	m.mu.Unlock()

	client := localapi.NewClient(m.transport, address, m.logger)
	uploader := upload.NewLocal(client, m.logger, m.metrics)
	opts := []device.LocalOption{device.WithUploader(uploader)}
	if m.catalog != nil {
		syncer := material.NewSyncer(m.catalog, client, m.logger, m.metrics)
		syncer.OnSynced(m.materialSyncNotifier(def.Name))
		opts = append(opts, device.WithMaterialSyncer(syncer))
	}
	d := device.NewLocal(key, client, m.bus, m.logger, m.metrics, opts...)

	if mach := m.boundMachine(key); mach != nil {
		cred, err := m.store.Credential(m.ctx, mach.ID)
		if err == nil && cred.Valid() {
			client.SetCredential(cred)
		}
		// Credentials the client obtains on its own are persisted like
		// paired ones.
		machineID := mach.ID
		client.OnAuthorized(func(cred models.Credential) {
			if err := m.store.SetCredential(m.ctx, machineID, cred); err != nil {
				m.logger.Warn("persisting credential failed", zap.Error(err))
			}
		})
		m.store.SetMetadata(m.ctx, mach.ID, machine.KeyIsOnline, "true")
		m.store.SetMetadata(m.ctx, mach.ID, machine.KeyConnectionType, "lan")
	}

	m.mu.Lock()
	m.devices[key] = d
	m.clients[key] = client
	m.mu.Unlock()

	d.Connect(m.ctx)
	m.logger.Info("local device added",
		zap.String("key", key),
		zap.String("address", address),
		zap.String("type", def.ID),
	)
	m.publish(TopicDeviceAdded, key)
}

// materialSyncNotifier announces the first completed material sync for a
// device of the named machine type.
func (m *LocalManager) materialSyncNotifier(name string) func(uploaded int) {
	return func(uploaded int) {
		m.publish(TopicMessage, Message{
			Title: "Materials synced",
			Text:  fmt.Sprintf("Sent %d new material profiles to %s.", uploaded, name),
		})
	}
}

func (m *LocalManager) removeDevice(key string) {
	m.mu.Lock()
	d, ok := m.devices[key]
	delete(m.devices, key)
	delete(m.clients, key)
	m.mu.Unlock()
	if !ok {
		return
	}

	d.Close()
	if mach := m.boundMachine(key); mach != nil {
		m.store.SetMetadata(m.ctx, mach.ID, machine.KeyIsOnline, "false")
	}
	m.logger.Info("local device removed", zap.String("key", key))
	m.publish(TopicDeviceRemoved, key)
}

// boundMachine returns the configured machine holding key as its network
// key, if any.
func (m *LocalManager) boundMachine(key string) *machine.Machine {
	if m.store == nil {
		return nil
	}
	machines, err := m.store.FindByMetadata(m.ctx, machine.KeyNetworkKey, key)
	if err != nil || len(machines) == 0 {
		return nil
	}
	return machines[0]
}

// probeManualInstance confirms a manually-added address actually runs the
// cluster API before creating a device for it.
func (m *LocalManager) probeManualInstance(ctx context.Context, address string) {
	client := localapi.NewClient(m.transport, address, m.logger)
	sys, err := client.GetSystem(ctx)
	if err != nil {
		m.logger.Warn("manual instance unreachable",
			zap.String("address", address), zap.Error(err))
		return
	}

	def, ok := m.table.ByName(sys.Variant)
	if !ok {
		m.logger.Warn("manual instance has unsupported variant",
			zap.String("address", address),
			zap.String("variant", sys.Variant),
		)
		return
	}
	m.logger.Info("manual instance confirmed",
		zap.String("address", address),
		zap.String("name", sys.Name),
	)
	m.metrics.DiscoveryEvents.WithLabelValues("manual", "added").Inc()
	m.addDevice("manual:"+address, address, def)
}

// Devices returns the live local devices.
func (m *LocalManager) Devices() []*device.LocalDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*device.LocalDevice, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	return out
}

// Device returns one device by its network key.
func (m *LocalManager) Device(key string) (*device.LocalDevice, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[key]
	return d, ok
}

// SetActiveMachine tells the manager which configured machine the host is
// now working with. When a discovered device matches the machine's network
// key it is (re)connected with the machine's stored credential and
// announced again; an empty machineID clears the selection. The machine may
// not have been sighted yet, which is not an error.
func (m *LocalManager) SetActiveMachine(ctx context.Context, machineID string) error {
	if machineID == "" {
		m.mu.Lock()
		m.activeKey = ""
		m.mu.Unlock()
		return nil
	}

	machines, err := m.store.All(ctx)
	if err != nil {
		return err
	}
	var mach *machine.Machine
	for _, cand := range machines {
		if cand.ID == machineID {
			mach = cand
			break
		}
	}
	if mach == nil {
		return machine.ErrNotFound
	}

	key := mach.Meta(machine.KeyNetworkKey)
	m.mu.Lock()
	m.activeKey = key
	d, ok := m.devices[key]
	client := m.clients[key]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if cred, err := m.store.Credential(ctx, mach.ID); err == nil && cred.Valid() {
		client.SetCredential(cred)
	}
	d.Connect(m.ctx)
	m.publish(TopicDeviceAdded, key)
	return nil
}

// ActiveKey returns the network key of the active machine, when it has one.
func (m *LocalManager) ActiveKey() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeKey
}

// PairPrinter runs the credential handshake against the host behind key and
// persists the issued pair on machineID. The user still has to approve the
// request on the printer; CheckPairing polls the outcome.
func (m *LocalManager) PairPrinter(ctx context.Context, key, machineID, application, user string) (models.Credential, error) {
	m.mu.Lock()
	client, ok := m.clients[key]
	m.mu.Unlock()
	if !ok {
		return models.Credential{}, ErrUnknownDevice
	}

	cred, err := client.RequestAuth(ctx, application, user)
	if err != nil {
		return models.Credential{}, err
	}
	if err := m.store.SetCredential(ctx, machineID, cred); err != nil {
		return models.Credential{}, err
	}
	return cred, nil
}

// CheckPairing asks the host whether a previously requested credential was
// approved on the printer.
func (m *LocalManager) CheckPairing(ctx context.Context, key string, cred models.Credential) (localapi.AuthStatus, error) {
	m.mu.Lock()
	client, ok := m.clients[key]
	m.mu.Unlock()
	if !ok {
		return "", ErrUnknownDevice
	}
	return client.CheckAuth(ctx, cred.ID)
}

func (m *LocalManager) publish(topic string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.PublishAsync(context.Background(), plugin.Event{
		Topic:   topic,
		Source:  m.Name(),
		Payload: payload,
	})
}
