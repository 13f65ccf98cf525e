package build

import (
	"runtime/debug"
)

// Commit is set at link time with -ldflags "-X".
var Commit string

// Version returns the module version recorded in the binary, or "devel".
func Version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return "devel"
	}

	return info.Main.Version
}

// GoVersion returns the toolchain the binary was built with.
func GoVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}

	return info.GoVersion
}
