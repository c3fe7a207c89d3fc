// Package buildinfo carries build-time metadata that is injected at startup
// and kept out of the user configuration.
package buildinfo

// UnknownValue is reported for metadata that was not set at build time.
const UnknownValue = "unknown"

// BuildInfo provides read access to build-time metadata.
type BuildInfo interface {
	Version() string
	BuildDate() string
	SystemID() string
}

// Context holds the metadata the binary was built with plus the per-install
// system identifier used for MQTT client IDs and telemetry tags.
type Context struct {
	version   string
	buildDate string
	systemID  string
}

// NewContext creates a build context. Empty values are reported as UnknownValue.
func NewContext(version, buildDate, systemID string) *Context {
	return &Context{
		version:   version,
		buildDate: buildDate,
		systemID:  systemID,
	}
}

// Version returns the version tag the binary was built from.
func (c *Context) Version() string {
	if c == nil || c.version == "" {
		return UnknownValue
	}
	return c.version
}

// BuildDate returns the build timestamp.
func (c *Context) BuildDate() string {
	if c == nil || c.buildDate == "" {
		return UnknownValue
	}
	return c.buildDate
}

// SystemID returns the unique identifier of this installation.
func (c *Context) SystemID() string {
	if c == nil || c.systemID == "" {
		return UnknownValue
	}
	return c.systemID
}

// String formats the context for the version command and startup log.
func (c *Context) String() string {
	return c.Version() + " (built " + c.BuildDate() + ")"
}
