package build

import (
	"github.com/jingkaihe/primforge/pkg/providers"
	"github.com/jingkaihe/primforge/pkg/providers/claude"
	"github.com/jingkaihe/primforge/pkg/providers/kodelet"
)

// DefaultRegistry returns a registry with every shipped provider
func DefaultRegistry() *providers.Registry {
	r := providers.NewRegistry()
	claude.Register(r)
	kodelet.Register(r)
	return r
}
