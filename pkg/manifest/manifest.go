// Package manifest reads and writes the build manifest that records, for
// every generated file, where it came from and its content hash.
package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// FileName is the manifest written at the root of every build output
const FileName = ".primforge-manifest.json"

// SchemaVersion is the manifest format version
const SchemaVersion = 1

// Entry describes one generated file. Files rendered from one primitive set
// Primitive and Version; central documents assembled from many set Sources.
type Entry struct {
	Primitive   string   `json:"primitive,omitempty"`
	Sources     []string `json:"sources,omitempty"`
	Kind        string   `json:"kind,omitempty"`
	Version     int      `json:"version,omitempty"`
	Provider    string   `json:"provider"`
	Transformer string   `json:"transformer"`
	Hash        string   `json:"hash"`
	BuiltAt     string   `json:"built_at"`
}

// Origin names what produced the file, for display
func (e Entry) Origin() string {
	if e.Primitive != "" {
		return e.Primitive
	}
	if len(e.Sources) == 1 {
		return e.Sources[0]
	}
	return e.Transformer
}

// Manifest is the content of .primforge-manifest.json
type Manifest struct {
	SchemaVersion int              `json:"schema_version"`
	Provider      string           `json:"provider"`
	BuildID       string           `json:"build_id"`
	GeneratedAt   string           `json:"generated_at"`
	Entries       map[string]Entry `json:"entries"`
}

// New returns an empty manifest stamped with a build id and time
func New(provider, buildID string, at time.Time) *Manifest {
	return &Manifest{
		SchemaVersion: SchemaVersion,
		Provider:      provider,
		BuildID:       buildID,
		GeneratedAt:   at.UTC().Format(time.RFC3339),
		Entries:       make(map[string]Entry),
	}
}

// Paths returns every entry path in lexical order
func (m *Manifest) Paths() []string {
	paths := make([]string, 0, len(m.Entries))
	for p := range m.Entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Marshal encodes the manifest as indented JSON
func (m *Manifest) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode manifest")
	}
	return append(data, '\n'), nil
}

// Save writes the manifest into dir
func (m *Manifest) Save(dir string) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

// Load reads the manifest of a build output directory
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Errorf("%s has no build manifest; run primforge build first", dir)
		}
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(err, "invalid manifest %s", path)
	}
	if m.SchemaVersion != SchemaVersion {
		return nil, errors.Errorf("unsupported manifest schema version %d in %s", m.SchemaVersion, path)
	}
	if m.Entries == nil {
		m.Entries = make(map[string]Entry)
	}
	return &m, nil
}
