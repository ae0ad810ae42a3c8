package material

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/printnest/printnest/pkg/models"
)

func writeProfile(t *testing.T, dir, id, guid string, version int) string {
	t.Helper()
	body := fmt.Sprintf(`<fdmmaterial><metadata><GUID>%s</GUID><version>%d</version></metadata></fdmmaterial>`, guid, version)
	path := filepath.Join(dir, id+".fdm_material")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "generic_pla", "guid-pla", 2)
	p := writeProfile(t, dir, "generic_abs", "guid-abs", 1)
	if err := os.WriteFile(p+".sig", []byte("sig"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Not a material file, must be ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := LoadCatalog([]string{dir}, zap.NewNop())
	if len(c.Entries()) != 2 {
		t.Fatalf("entries = %d, want 2", len(c.Entries()))
	}

	pla, ok := c.Lookup("guid-pla")
	if !ok || pla.ID != "generic_pla" || pla.Version != 2 {
		t.Errorf("pla = %+v, ok=%v", pla, ok)
	}
	if pla.SignatureFilePath != "" {
		t.Errorf("pla signature = %q, want empty", pla.SignatureFilePath)
	}

	abs, _ := c.Lookup("guid-abs")
	if abs.SignatureFilePath != abs.FilePath+".sig" {
		t.Errorf("abs signature = %q", abs.SignatureFilePath)
	}
}

func TestLoadCatalogKeepsHigherVersion(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	writeProfile(t, dirA, "generic_pla", "guid-pla", 1)
	writeProfile(t, dirB, "generic_pla_new", "guid-pla", 3)

	c := LoadCatalog([]string{dirA, dirB}, zap.NewNop())
	e, _ := c.Lookup("guid-pla")
	if e.Version != 3 {
		t.Errorf("version = %d, want 3", e.Version)
	}
}

func TestLoadCatalogSkipsMalformed(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.fdm_material"), []byte("<not-xml"), 0o644); err != nil {
		t.Fatal(err)
	}
	writeProfile(t, dir, "good", "guid-good", 1)

	c := LoadCatalog([]string{dir}, zap.NewNop())
	if len(c.Entries()) != 1 {
		t.Errorf("entries = %d, want 1", len(c.Entries()))
	}
}

type fakeCluster struct {
	mu        sync.Mutex
	installed []models.ClusterMaterial
	fetchErr  error
	uploads   []string // filenames in upload order
	replies   map[string]string
	uploadErr map[string]error
}

func (f *fakeCluster) GetMaterials(ctx context.Context) ([]models.ClusterMaterial, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.installed, nil
}

func (f *fakeCluster) UploadMaterial(ctx context.Context, filename string, body []byte, sigFilename string, sigBody []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, filename)
	if err := f.uploadErr[filename]; err != nil {
		return nil, err
	}
	if reply, ok := f.replies[filename]; ok {
		return []byte(reply), nil
	}
	return []byte(`{"message":"material added"}`), nil
}

func newTestSyncer(t *testing.T, c *Catalog, f *fakeCluster) *Syncer {
	t.Helper()
	s := NewSyncer(c, f, zap.NewNop(), nil)
	s.limiter = rate.NewLimiter(rate.Inf, 1)
	return s
}

func TestSyncUploadsMissingAndOutdated(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "generic_pla", "guid-pla", 2)
	writeProfile(t, dir, "generic_abs", "guid-abs", 1)
	writeProfile(t, dir, "generic_cpe", "guid-cpe", 1)
	c := LoadCatalog([]string{dir}, zap.NewNop())

	f := &fakeCluster{installed: []models.ClusterMaterial{
		{GUID: "guid-pla", Version: 1}, // outdated
		{GUID: "guid-cpe", Version: 1}, // current
	}}
	s := newTestSyncer(t, c, f)

	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(f.uploads) != 2 {
		t.Fatalf("uploads = %v, want pla and abs", f.uploads)
	}
	seen := map[string]bool{}
	for _, name := range f.uploads {
		seen[name] = true
	}
	if !seen["generic_pla.fdm_material"] || !seen["generic_abs.fdm_material"] {
		t.Errorf("uploads = %v", f.uploads)
	}
}

func TestSyncNothingMissing(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "generic_pla", "guid-pla", 1)
	c := LoadCatalog([]string{dir}, zap.NewNop())

	f := &fakeCluster{installed: []models.ClusterMaterial{{GUID: "guid-pla", Version: 1}}}
	s := newTestSyncer(t, c, f)

	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(f.uploads) != 0 {
		t.Errorf("uploads = %v, want none", f.uploads)
	}
}

func TestSyncNotAddedIsNotCounted(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "generic_pla", "guid-pla", 1)
	c := LoadCatalog([]string{dir}, zap.NewNop())

	f := &fakeCluster{replies: map[string]string{
		"generic_pla.fdm_material": `{"message":"material not added"}`,
	}}
	s := newTestSyncer(t, c, f)

	var got int
	s.OnSynced(func(uploaded int) { got = uploaded })
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if got != 0 {
		t.Errorf("uploaded = %d, want 0", got)
	}
}

func TestSyncContinuesPastFailedUpload(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "generic_pla", "guid-pla", 1)
	writeProfile(t, dir, "generic_abs", "guid-abs", 1)
	c := LoadCatalog([]string{dir}, zap.NewNop())

	f := &fakeCluster{uploadErr: map[string]error{
		"generic_abs.fdm_material": errors.New("boom"),
	}}
	s := newTestSyncer(t, c, f)

	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(f.uploads) != 2 {
		t.Errorf("uploads = %v, want both attempted", f.uploads)
	}
}

func TestSyncFetchFailurePropagates(t *testing.T) {
	c := LoadCatalog(nil, zap.NewNop())
	f := &fakeCluster{fetchErr: errors.New("offline")}
	s := newTestSyncer(t, c, f)

	if err := s.Sync(context.Background()); err == nil {
		t.Fatal("Sync succeeded against a failing fetch")
	}
}

func TestSyncStaysQuietWithNothingToUpload(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "generic_pla", "guid-pla", 1)
	c := LoadCatalog([]string{dir}, zap.NewNop())

	f := &fakeCluster{installed: []models.ClusterMaterial{{GUID: "guid-pla", Version: 1}}}
	s := newTestSyncer(t, c, f)

	calls := 0
	s.OnSynced(func(int) { calls++ })

	if err := s.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Errorf("notified on a pass that uploaded nothing")
	}

	// A later pass that does upload still gets its one notification.
	f.mu.Lock()
	f.installed = nil
	f.mu.Unlock()
	if err := s.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("notified %d times, want 1", calls)
	}
}

func TestSyncNotifiesOnce(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "generic_pla", "guid-pla", 1)
	c := LoadCatalog([]string{dir}, zap.NewNop())

	f := &fakeCluster{}
	s := newTestSyncer(t, c, f)

	calls := 0
	s.OnSynced(func(int) { calls++ })

	if err := s.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("notified %d times, want 1", calls)
	}
}
