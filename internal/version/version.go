// Package version exposes build metadata stamped into edgelimit binaries with
// -ldflags, plus per-process identity used in logs and health responses.
package version

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/google/uuid"
)

// Set via: -ldflags "-X edgelimit/internal/version.Version=... -X ...GitCommit=... -X ...BuildDate=..."
var (
	Version   = "unknown"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// Info describes the running binary and process.
type Info struct {
	Version    string `json:"version"`
	GitCommit  string `json:"git_commit"`
	BuildDate  string `json:"build_date"`
	GoVersion  string `json:"go_version"`
	InstanceID string `json:"instance_id"`
	Hostname   string `json:"hostname"`
}

var (
	once sync.Once
	info Info
)

// GetInfo returns build metadata. The instance id is generated once per process
// so every replica behind a load balancer can be told apart in logs.
func GetInfo() Info {
	once.Do(func() {
		info = Info{
			Version:    Version,
			GitCommit:  GitCommit,
			BuildDate:  BuildDate,
			GoVersion:  runtime.Version(),
			InstanceID: uuid.NewString(),
			Hostname:   hostname(),
		}
	})
	return info
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "unknown"
	}
	return name
}

// LogAttrs returns the fields attached to every log record.
func (i Info) LogAttrs() []any {
	return []any{
		"version", i.Version,
		"git_commit", i.GitCommit,
		"build_date", i.BuildDate,
		"instance_id", i.InstanceID,
	}
}

// String formats version info for -version output.
func (i Info) String() string {
	return fmt.Sprintf("edgelimit %s (commit: %s, built: %s, %s)", i.Version, i.GitCommit, i.BuildDate, i.GoVersion)
}
