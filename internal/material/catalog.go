// Package material keeps a printer's installed material profiles in step
// with the profiles shipped on disk.
package material

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/printnest/printnest/pkg/models"
)

// fdmMaterial is the slice of a material profile file the catalog needs:
// its identity and its version.
type fdmMaterial struct {
	XMLName  xml.Name `xml:"fdmmaterial"`
	Metadata struct {
		GUID    string `xml:"GUID"`
		Version int    `xml:"version"`
	} `xml:"metadata"`
}

// Catalog is the set of material profiles available on disk, keyed by GUID.
type Catalog struct {
	entries map[string]models.MaterialCatalogEntry
	logger  *zap.Logger
}

// LoadCatalog scans dirs for material profile files. Unreadable or
// malformed files are skipped with a log line; a GUID seen twice keeps the
// higher version.
func LoadCatalog(dirs []string, logger *zap.Logger) *Catalog {
	c := &Catalog{
		entries: make(map[string]models.MaterialCatalogEntry),
		logger:  logger,
	}
	for _, dir := range dirs {
		c.scanDir(dir)
	}
	logger.Info("material catalog loaded", zap.Int("profiles", len(c.entries)))
	return c
}

func (c *Catalog) scanDir(dir string) {
	files, err := os.ReadDir(dir)
	if err != nil {
		c.logger.Debug("skipping material directory", zap.String("dir", dir), zap.Error(err))
		return
	}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".fdm_material") {
			continue
		}
		path := filepath.Join(dir, f.Name())
		entry, err := readEntry(path)
		if err != nil {
			c.logger.Warn("skipping material profile", zap.String("file", path), zap.Error(err))
			continue
		}
		if prev, ok := c.entries[entry.GUID]; ok && prev.Version >= entry.Version {
			continue
		}
		c.entries[entry.GUID] = entry
	}
}

func readEntry(path string) (models.MaterialCatalogEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.MaterialCatalogEntry{}, err
	}
	var m fdmMaterial
	if err := xml.Unmarshal(data, &m); err != nil {
		return models.MaterialCatalogEntry{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if m.Metadata.GUID == "" {
		return models.MaterialCatalogEntry{}, fmt.Errorf("%s has no GUID", filepath.Base(path))
	}

	entry := models.MaterialCatalogEntry{
		ID:       strings.TrimSuffix(filepath.Base(path), ".fdm_material"),
		GUID:     m.Metadata.GUID,
		Version:  m.Metadata.Version,
		FilePath: path,
	}
	// Signed profiles ship a detached signature next to the profile.
	sig := path + ".sig"
	if _, err := os.Stat(sig); err == nil {
		entry.SignatureFilePath = sig
	}
	return entry, nil
}

// Entries returns all catalog entries.
func (c *Catalog) Entries() []models.MaterialCatalogEntry {
	out := make([]models.MaterialCatalogEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	return out
}

// Lookup returns the entry for guid.
func (c *Catalog) Lookup(guid string) (models.MaterialCatalogEntry, bool) {
	e, ok := c.entries[guid]
	return e, ok
}
