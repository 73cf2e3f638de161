package wiring

import (
	"runtime"
	"strings"

	"github.com/ovitrac/AdservioToolbox/internal/extrun"
	"github.com/ovitrac/AdservioToolbox/internal/fileutil"
)

// Stub point for tests.
var hookGOOS = runtime.GOOS

// resolveHookCommand adapts a .sh hook path to the host platform. Windows
// without Git Bash cannot execute .sh, so the packaged .py entrypoint is
// preferred there, then a .cmd wrapper, then the .sh as a last resort.
// POSIX returns the path unchanged.
func resolveHookCommand(shPath string) string {
	if hookGOOS != "windows" {
		return shPath
	}

	base := strings.TrimSuffix(shPath, ".sh")

	if pyPath := base + ".py"; fileutil.FileExists(pyPath) {
		return windowsPython() + " " + pyPath
	}
	if cmdPath := base + ".cmd"; fileutil.FileExists(cmdPath) {
		return cmdPath
	}
	return shPath
}

func windowsPython() string {
	if extrun.Available("py") {
		return "py -3"
	}
	return "python"
}
