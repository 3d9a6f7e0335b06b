// Package buildinfo carries build-time metadata injected at startup.
package buildinfo

import "fmt"

// UnknownValue is reported for metadata not set at build time.
const UnknownValue = "unknown"

// Context holds version information set through -ldflags in main.
type Context struct {
	Version   string
	BuildDate string
}

// GetVersion returns the build version or UnknownValue.
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return UnknownValue
	}
	return c.Version
}

// GetBuildDate returns the build date or UnknownValue.
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return UnknownValue
	}
	return c.BuildDate
}

// Release is the release identifier attached to telemetry events.
func (c *Context) Release() string {
	return "treecrown@" + c.GetVersion()
}

// String formats the version line printed by --version.
func (c *Context) String() string {
	return fmt.Sprintf("treecrown %s (built %s)", c.GetVersion(), c.GetBuildDate())
}
