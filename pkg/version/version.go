// Package version reports the primforge build identity, stamped at link time.
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is set with -ldflags "-X .../pkg/version.Version=..."
	Version = "dev"
	// GitCommit is the commit the binary was built from
	GitCommit = "unknown"
)

// Info describes the running binary
type Info struct {
	Version   string
	GitCommit string
	GoVersion string
}

// Get returns the build identity
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
	}
}

func (i Info) String() string {
	return fmt.Sprintf("primforge %s (commit %s, %s)", i.Version, i.GitCommit, i.GoVersion)
}
