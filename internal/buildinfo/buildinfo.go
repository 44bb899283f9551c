// Package buildinfo carries version identifiers stamped at link time via
// -ldflags "-X sitescore/internal/buildinfo.Version=...".
package buildinfo

var (
    Version = "dev"
    Commit  = ""
    BuiltAt = ""
)

// Info returns the stamped identifiers for the debug endpoint. Empty values
// are included so the keys are stable across builds.
func Info() map[string]string {
    return map[string]string{
        "version": Version,
        "commit":  Commit,
        "builtAt": BuiltAt,
    }
}
