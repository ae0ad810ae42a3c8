package material

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/printnest/printnest/internal/metrics"
	"github.com/printnest/printnest/pkg/models"
)

// clusterClient is the slice of the cluster API client the syncer needs.
type clusterClient interface {
	GetMaterials(ctx context.Context) ([]models.ClusterMaterial, error)
	UploadMaterial(ctx context.Context, filename string, body []byte, sigFilename string, sigBody []byte) ([]byte, error)
}

// Syncer pushes catalog profiles a printer is missing, or holds an older
// version of, to that printer. One syncer per device.
type Syncer struct {
	catalog *Catalog
	client  clusterClient
	logger  *zap.Logger
	metrics *metrics.Set

	// Printers reindex their material database per received file; pace
	// uploads to one per second so the printer keeps up.
	limiter *rate.Limiter

	mu       sync.Mutex
	running  bool
	notified bool
	onSynced func(uploaded int)
}

func NewSyncer(catalog *Catalog, client clusterClient, logger *zap.Logger, m *metrics.Set) *Syncer {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Syncer{
		catalog: catalog,
		client:  client,
		logger:  logger,
		metrics: m,
		limiter: rate.NewLimiter(rate.Limit(1), 1),
	}
}

// OnSynced registers a callback fired after the first completed pass in
// this session. Later passes stay quiet.
func (s *Syncer) OnSynced(fn func(uploaded int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSynced = fn
}

// Sync fetches the printer's installed materials and uploads every catalog
// profile that is missing or outdated there. A failed upload of one profile
// does not stop the rest. Concurrent calls collapse to one.
func (s *Syncer) Sync(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	installed, err := s.client.GetMaterials(ctx)
	if err != nil {
		return err
	}

	missing := s.diff(installed)
	uploaded := 0
	for _, entry := range missing {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		added, err := s.upload(ctx, entry)
		if err != nil {
			s.logger.Warn("material upload failed",
				zap.String("guid", entry.GUID),
				zap.String("file", filepath.Base(entry.FilePath)),
				zap.Error(err),
			)
			continue
		}
		if added {
			uploaded++
			s.metrics.MaterialsSynced.Inc()
		}
	}

	s.logger.Info("material sync complete",
		zap.Int("missing", len(missing)),
		zap.Int("uploaded", uploaded),
	)
	s.finish(uploaded)
	return nil
}

// diff returns the catalog entries absent from, or newer than, the
// printer's installed set.
func (s *Syncer) diff(installed []models.ClusterMaterial) []models.MaterialCatalogEntry {
	have := make(map[string]int, len(installed))
	for _, m := range installed {
		if v, ok := have[m.GUID]; !ok || m.Version > v {
			have[m.GUID] = m.Version
		}
	}

	var missing []models.MaterialCatalogEntry
	for _, entry := range s.catalog.Entries() {
		if v, ok := have[entry.GUID]; !ok || entry.Version > v {
			missing = append(missing, entry)
		}
	}
	return missing
}

// upload sends one profile. It reports whether the printer actually took
// the file: bundled profiles the printer refuses to replace answer "not
// added", which is not a failure.
func (s *Syncer) upload(ctx context.Context, entry models.MaterialCatalogEntry) (bool, error) {
	body, err := os.ReadFile(entry.FilePath)
	if err != nil {
		return false, err
	}
	var sigName string
	var sigBody []byte
	if entry.SignatureFilePath != "" {
		sigBody, err = os.ReadFile(entry.SignatureFilePath)
		if err != nil {
			return false, err
		}
		sigName = filepath.Base(entry.SignatureFilePath)
	}

	reply, err := s.client.UploadMaterial(ctx, filepath.Base(entry.FilePath), body, sigName, sigBody)
	if err != nil {
		return false, err
	}
	if strings.Contains(strings.ToLower(string(reply)), "not added") {
		s.logger.Debug("material not added by printer", zap.String("guid", entry.GUID))
		return false, nil
	}
	return true, nil
}

// finish fires the one-shot synced notification.
func (s *Syncer) finish(uploaded int) {
	if uploaded == 0 {
		return
	}
	s.mu.Lock()
	fn := s.onSynced
	first := !s.notified
	s.notified = true
	s.mu.Unlock()

	if first && fn != nil {
		fn(uploaded)
	}
}
