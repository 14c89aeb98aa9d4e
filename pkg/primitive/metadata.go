package primitive

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rogpeppe/go-internal/lockedfile"
	"gopkg.in/yaml.v3"
)

// File and directory names inside a primitive directory
const (
	MetadataFile  = "meta.yaml"
	ReadmeFile    = "README.md"
	ToolSpecFile  = "tool.yaml"
	ImplDir       = "impl"
	ValidatorsDir = "validators"
)

// ParseMetadata decodes a metadata document, rejecting unknown fields.
// The validator's schema layer reports every violation; this is the strict
// single-error path used once a repository has already been validated.
func ParseMetadata(data []byte) (*Metadata, error) {
	var meta Metadata
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&meta); err != nil {
		return nil, errors.Wrap(err, "failed to decode metadata")
	}
	return &meta, nil
}

// MarshalMetadata encodes metadata the way it is stored on disk
func MarshalMetadata(meta *Metadata) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(meta); err != nil {
		return nil, errors.Wrap(err, "failed to encode metadata")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to encode metadata")
	}
	return buf.Bytes(), nil
}

// LoadMetadata reads dir/meta.yaml
func LoadMetadata(dir string) (*Metadata, error) {
	path := filepath.Join(dir, MetadataFile)
	data, err := lockedfile.Read(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	meta, err := ParseMetadata(data)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid metadata in %s", path)
	}
	return meta, nil
}

// SaveMetadata writes dir/meta.yaml under an exclusive file lock
func SaveMetadata(dir string, meta *Metadata) error {
	data, err := MarshalMetadata(meta)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, MetadataFile)
	if err := lockedfile.Write(path, bytes.NewReader(data), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

// UpdateMetadata applies fn to dir/meta.yaml as one locked read-modify-write.
// If fn returns an error the file is left unchanged.
func UpdateMetadata(dir string, fn func(*Metadata) error) (*Metadata, error) {
	path := filepath.Join(dir, MetadataFile)
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "failed to stat %s", path)
	}

	var updated *Metadata
	err := lockedfile.Transform(path, func(data []byte) ([]byte, error) {
		meta, err := ParseMetadata(data)
		if err != nil {
			return nil, err
		}
		if err := fn(meta); err != nil {
			return nil, err
		}
		meta.SortVersions()
		updated = meta
		return MarshalMetadata(meta)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// LoadToolSpec reads dir/tool.yaml
func LoadToolSpec(dir string) (*ToolSpec, error) {
	path := filepath.Join(dir, ToolSpecFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	var spec ToolSpec
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, errors.Wrapf(err, "invalid tool spec in %s", path)
	}
	return &spec, nil
}
