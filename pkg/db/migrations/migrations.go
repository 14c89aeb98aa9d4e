// Package migrations holds the install history schema, versioned by
// YYYYMMDDHHmmss timestamps.
package migrations

import (
	"github.com/jingkaihe/primforge/pkg/db"
)

// All returns every migration; append new ones at the end
func All() []db.Migration {
	return []db.Migration{
		Migration20260301090000CreateInstallRuns(),
		Migration20260301090001CreateInstallActions(),
	}
}
