// Package config loads the project-level primforge.yaml configuration.
// The resulting Project value is passed explicitly through discovery,
// validation, build and install so none of them read global state.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/gobwas/glob"
	"github.com/jingkaihe/primforge/pkg/primitive"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// FileName is the configuration file looked up in the repository root
const FileName = "primforge.yaml"

// EnvPrefix prefixes environment variable overrides (PRIMFORGE_BUILD_DIR, ...)
const EnvPrefix = "PRIMFORGE"

// ProviderDirs overrides where a provider's output is installed
type ProviderDirs struct {
	ProjectDir string `mapstructure:"project_dir"`
	GlobalDir  string `mapstructure:"global_dir"`
}

// InstallConfig holds install defaults
type InstallConfig struct {
	Backup bool `mapstructure:"backup"`
	Strict bool `mapstructure:"strict"`
}

// HistoryConfig controls the install history database
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// TracingConfig controls OpenTelemetry tracing
type TracingConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Sampler string  `mapstructure:"sampler"`
	Ratio   float64 `mapstructure:"ratio"`
}

// Project is the decoded primforge.yaml
type Project struct {
	SpecRoot     string                  `mapstructure:"spec_root"`
	SpecVersion  string                  `mapstructure:"spec_version"`
	BuildDir     string                  `mapstructure:"build_dir"`
	Workers      int                     `mapstructure:"workers"`
	Exclude      []string                `mapstructure:"exclude"`
	Pins         map[string]int          `mapstructure:"pins"`
	Models       []string                `mapstructure:"models"`
	BuiltinTools []string                `mapstructure:"builtin_tools"`
	Providers    map[string]ProviderDirs `mapstructure:"providers"`
	Install      InstallConfig           `mapstructure:"install"`
	History      HistoryConfig           `mapstructure:"history"`
	LogLevel     string                  `mapstructure:"log_level"`
	LogFormat    string                  `mapstructure:"log_format"`
	Tracing      TracingConfig           `mapstructure:"tracing"`

	// RepoDir is the directory relative paths resolve against
	RepoDir string `mapstructure:"-"`

	excludes []glob.Glob
	pins     map[primitive.Ref]int
}

// DefaultModels are the model aliases agents may reference
var DefaultModels = []string{"inherit", "sonnet", "opus", "haiku"}

// DefaultBuiltinTools are runtime tool names primitives may reference without a tool primitive
var DefaultBuiltinTools = []string{
	"Bash", "Edit", "Glob", "Grep", "MultiEdit", "NotebookEdit", "Read",
	"Task", "TodoWrite", "WebFetch", "WebSearch", "Write",
}

// SetDefaults registers every default on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("spec_root", "primitives")
	v.SetDefault("spec_version", "v1")
	v.SetDefault("build_dir", "build")
	v.SetDefault("workers", runtime.NumCPU())
	v.SetDefault("exclude", []string{})
	v.SetDefault("pins", map[string]int{})
	v.SetDefault("models", DefaultModels)
	v.SetDefault("builtin_tools", DefaultBuiltinTools)
	v.SetDefault("providers", map[string]any{})
	v.SetDefault("install.backup", true)
	v.SetDefault("install.strict", false)
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "~/.primforge/history.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "fmt")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sampler", "always")
	v.SetDefault("tracing.ratio", 1.0)
}

// NewViper returns a viper instance wired with defaults, env overrides and
// the config search path rooted at repoDir
func NewViper(repoDir string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
	v.SetConfigType("yaml")
	v.AddConfigPath(repoDir)
	return v
}

// Load reads the configuration file (if any) into v and decodes it.
// A missing file is not an error; defaults apply.
func Load(v *viper.Viper, repoDir string) (*Project, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read configuration")
		}
	}
	return Decode(v.AllSettings(), repoDir)
}

// Decode turns raw settings into a compiled Project. Unknown keys are rejected
// so a typo in primforge.yaml does not silently fall back to a default.
func Decode(settings map[string]any, repoDir string) (*Project, error) {
	var p Project
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &p,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToSliceHookFunc(","),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create config decoder")
	}
	if err := decoder.Decode(settings); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	p.RepoDir = repoDir
	if err := p.Compile(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Default returns the configuration used when no primforge.yaml exists
func Default(repoDir string) *Project {
	v := viper.New()
	SetDefaults(v)
	p, err := Decode(v.AllSettings(), repoDir)
	if err != nil {
		panic(err)
	}
	return p
}

// Compile validates exclusion globs and pins and prepares them for matching
func (p *Project) Compile() error {
	p.excludes = p.excludes[:0]
	for _, pattern := range p.Exclude {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return errors.Wrapf(err, "invalid exclude pattern %q", pattern)
		}
		p.excludes = append(p.excludes, g)
	}

	p.pins = make(map[primitive.Ref]int, len(p.Pins))
	for key, v := range p.Pins {
		ref, err := primitive.ParseRef(key)
		if err != nil {
			return errors.Wrap(err, "invalid pin")
		}
		if v < 1 {
			return errors.Errorf("invalid pin for %s: version must be >= 1, got %d", key, v)
		}
		p.pins[ref] = v
	}

	if p.Workers < 1 {
		p.Workers = 1
	}
	return nil
}

// Excluded reports whether ref matches any exclusion pattern
func (p *Project) Excluded(ref primitive.Ref) bool {
	s := ref.String()
	for _, g := range p.excludes {
		if g.Match(s) {
			return true
		}
	}
	return false
}

// Pin returns the pinned version of ref, or 0 when unpinned
func (p *Project) Pin(ref primitive.Ref) int {
	return p.pins[ref]
}

// PinnedRefs returns every pinned ref
func (p *Project) PinnedRefs() []primitive.Ref {
	refs := make([]primitive.Ref, 0, len(p.pins))
	for ref := range p.pins {
		refs = append(refs, ref)
	}
	primitive.SortRefs(refs)
	return refs
}

// SpecRootDir returns the absolute spec root for the configured spec version
func (p *Project) SpecRootDir() string {
	return filepath.Join(p.resolve(p.SpecRoot), p.SpecVersion)
}

// BuildDirFor returns the build output directory for a provider
func (p *Project) BuildDirFor(provider string) string {
	return filepath.Join(p.resolve(p.BuildDir), provider)
}

// HistoryPath returns the expanded history database path
func (p *Project) HistoryPath() string {
	return ExpandHome(p.History.Path)
}

// IsModel reports whether name is a configured model alias
func (p *Project) IsModel(name string) bool {
	return contains(p.Models, name)
}

// IsBuiltinTool reports whether name is a configured runtime tool
func (p *Project) IsBuiltinTool(name string) bool {
	return contains(p.BuiltinTools, name)
}

func (p *Project) resolve(path string) string {
	path = ExpandHome(path)
	if filepath.IsAbs(path) || p.RepoDir == "" {
		return path
	}
	return filepath.Join(p.RepoDir, path)
}

// ExpandHome replaces a leading ~ with the user's home directory
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
