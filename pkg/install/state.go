package install

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rogpeppe/go-internal/lockedfile"
)

// StateFile records what was last installed into a target directory
const StateFile = ".primforge-installed.json"

// BackupDir holds copies of files replaced by an install
const BackupDir = ".primforge-backups"

const stateSchemaVersion = 1

// Record is the last-installed state of one file
type Record struct {
	Hash        string `json:"hash"`
	Primitive   string `json:"primitive,omitempty"`
	Version     int    `json:"version,omitempty"`
	BuildID     string `json:"build_id"`
	InstalledAt string `json:"installed_at"`
}

// State is the content of .primforge-installed.json
type State struct {
	SchemaVersion int               `json:"schema_version"`
	Provider      string            `json:"provider"`
	Files         map[string]Record `json:"files"`
}

// LoadState reads the installed state of target. A missing file yields an
// empty state.
func LoadState(target string) (*State, error) {
	path := filepath.Join(target, StateFile)
	data, err := lockedfile.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{SchemaVersion: stateSchemaVersion, Files: make(map[string]Record)}, nil
		}
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrapf(err, "invalid install state %s", path)
	}
	if s.Files == nil {
		s.Files = make(map[string]Record)
	}
	return &s, nil
}

// Save writes the state under an exclusive file lock
func (s *State) Save(target string) error {
	s.SchemaVersion = stateSchemaVersion
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode install state")
	}
	path := filepath.Join(target, StateFile)
	if err := lockedfile.Write(path, bytes.NewReader(append(data, '\n')), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

// lockTarget serializes installs into the same target directory
func lockTarget(target string) (func(), error) {
	if err := os.MkdirAll(target, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create %s", target)
	}
	unlock, err := lockedfile.MutexAt(filepath.Join(target, StateFile+".lock")).Lock()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to lock %s", target)
	}
	return unlock, nil
}
