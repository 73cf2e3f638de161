package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ovitrac/AdservioToolbox/internal/ui"
)

// outputJSON outputs data as pretty-printed JSON to stdout.
func outputJSON(v interface{}) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}

// info prints a human-facing progress line to stderr. JSON mode keeps
// stdout machine-readable, so all narration goes to stderr.
func info(format string, args ...interface{}) {
	fmt.Fprintln(os.Stderr, fmt.Sprintf(format, args...))
}

func warnMsg(format string, args ...interface{}) {
	fmt.Fprintln(os.Stderr, ui.RenderWarn(ui.IconWarn+" "+fmt.Sprintf(format, args...)))
}

func errorMsg(format string, args ...interface{}) {
	fmt.Fprintln(os.Stderr, ui.RenderFail(ui.IconFail+" "+fmt.Sprintf(format, args...)))
}

// fatal prints an error and exits with code.
func fatal(code int, format string, args ...interface{}) {
	if jsonOutput {
		encoder := json.NewEncoder(os.Stderr)
		encoder.SetIndent("", "  ")
		_ = encoder.Encode(map[string]string{"error": fmt.Sprintf(format, args...)})
	} else {
		errorMsg(format, args...)
	}
	os.Exit(code)
}
