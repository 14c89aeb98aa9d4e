package install

import (
	"path/filepath"

	"github.com/jingkaihe/primforge/pkg/config"
	"github.com/jingkaihe/primforge/pkg/providers"
	"github.com/pkg/errors"
)

// ParseScope parses a scope name
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeProject, ScopeGlobal:
		return Scope(s), nil
	}
	return "", errors.Errorf("unknown install scope %q (expected project or global)", s)
}

// TargetDir returns where a provider installs for scope. Directories set in
// the project configuration override the provider defaults; relative
// project directories resolve against the repository.
func TargetDir(p *providers.Provider, scope Scope, cfg *config.Project) (string, error) {
	dirs := cfg.Providers[p.Name]

	switch scope {
	case ScopeProject:
		dir := p.ProjectDir
		if dirs.ProjectDir != "" {
			dir = dirs.ProjectDir
		}
		dir = config.ExpandHome(dir)
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(cfg.RepoDir, dir)
		}
		return dir, nil
	case ScopeGlobal:
		dir := p.GlobalDir
		if dirs.GlobalDir != "" {
			dir = dirs.GlobalDir
		}
		dir = config.ExpandHome(dir)
		if !filepath.IsAbs(dir) {
			return "", errors.Errorf("global directory %q of provider %s must be absolute", dir, p.Name)
		}
		return dir, nil
	}
	return "", errors.Errorf("unknown install scope %q", scope)
}
