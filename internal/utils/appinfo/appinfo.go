// Package appinfo reports build information about the running binary
package appinfo

import (
	"os"
	"runtime/debug"
)

// Name is the service name used in logs and health reports
const Name = "recycloai"

// Version returns APP_VERSION when set, otherwise the module version or VCS
// revision embedded by the Go toolchain.
func Version() string {
	if v := os.Getenv("APP_VERSION"); v != "" {
		return v
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "0.0.0-unknown"
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && setting.Value != "" {
			if len(setting.Value) > 12 {
				return setting.Value[:12]
			}
			return setting.Value
		}
	}
	return "0.0.0-unknown"
}
