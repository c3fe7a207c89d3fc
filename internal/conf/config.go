// config.go: settings struct for feedercam and the functions that load it.
package conf

import (
	"embed"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/feedercam/internal/errors"
	"github.com/tphakala/feedercam/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// Camera source identifiers
const (
	SourceTestPattern = "testpattern"
	SourceDirectory   = "directory"
	SourceExec        = "exec"
	SourceHTTP        = "http"
)

// Session store backends
const (
	SessionStoreSQLite = "sqlite"
	SessionStoreMySQL  = "mysql"
)

// CameraSettings selects and configures the frame source
type CameraSettings struct {
	Source    string        // testpattern, directory, exec or http
	FPS       int           // producer frame rate
	Width     int           // test pattern width in pixels
	Height    int           // test pattern height in pixels
	Quality   int           // test pattern JPEG quality, 1-100
	Directory string        // directory of .jpg files for the directory source
	Command   string        // capture command for the exec source, e.g. rpicam-vid
	Args      []string      // capture command arguments; the command must write MJPEG to stdout
	URL       string        // snapshot URL for the http source
	Timeout   time.Duration // per-frame acquire timeout for exec and http sources
}

// StreamSettings configures the frame distribution pipeline
type StreamSettings struct {
	MaxClients    int           // concurrent MJPEG clients, extra connections are closed silently
	PollInterval  time.Duration // consumer polling cadence; zero follows the frame interval
	MaxFrameBytes int           // largest frame the store will grow to hold
	MinFreeMemory uint64        // bytes of available system memory that buffer growth must leave free
	RestartDelay  time.Duration // pause between logging a fatal allocation failure and exiting
	EventBuffer   int           // pipeline event channel capacity
}

// WebServerSettings configures the HTTP surface
type WebServerSettings struct {
	Enabled         bool          // false runs the pipeline headless
	Port            string        // listen port
	MaxConnections  int           // accepted socket limit across all routes
	JPGCacheTTL     time.Duration // how long a single-shot capture is reused
	Metrics         bool          // expose /metrics
	ShutdownTimeout time.Duration // graceful shutdown budget
	AutoTLS         bool          // obtain a certificate with ACME
	TLSHost         string        // host name for AutoTLS
}

// MQTTSettings configures the status publisher
type MQTTSettings struct {
	Enabled  bool   // true to publish pipeline status
	Broker   string // e.g. tcp://localhost:1883
	Topic    string // base topic, status goes to <topic>/status
	Username string
	Password string
	Retain   bool // retain status messages
}

// SentrySettings configures opt-in error reporting
type SentrySettings struct {
	Enabled     bool
	DSN         string
	Environment string
	SampleRate  float64
}

// MySQLSettings holds the connection parameters for the MySQL session store
type MySQLSettings struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// SessionsSettings configures client session history
type SessionsSettings struct {
	Enabled bool          // record client sessions
	Type    string        // sqlite or mysql
	Path    string        // sqlite database file
	MySQL   MySQLSettings // mysql connection
}

// Settings contains all configuration options for feedercam
type Settings struct {
	Debug bool // true to enable debug logging for all modules

	Main struct {
		Name     string // name of this camera node, used in MQTT topics and logs
		SystemID string // unique installation id, generated on first start
	}

	Camera    CameraSettings
	Stream    StreamSettings
	WebServer WebServerSettings
	MQTT      MQTTSettings
	Sentry    SentrySettings
	Sessions  SessionsSettings
	Logging   logger.LoggingConfig
}

// FrameInterval returns the producer tick duration for the configured frame rate.
func (s *Settings) FrameInterval() time.Duration {
	if s.Camera.FPS <= 0 {
		return time.Second
	}
	return time.Second / time.Duration(s.Camera.FPS)
}

// PollInterval returns the consumer polling cadence. An unset
// stream.pollinterval polls once per frame so clients receive every frame.
func (s *Settings) PollInterval() time.Duration {
	if s.Stream.PollInterval > 0 {
		return s.Stream.PollInterval
	}
	return s.FrameInterval()
}

// Load reads the configuration file into a Settings instance using the
// global viper, which has the cobra flags bound into it.
func Load() (*Settings, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads, unmarshals and validates settings using v.
func LoadFrom(v *viper.Viper) (*Settings, error) {
	if err := initViper(v); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error unmarshaling config into struct: %w", err)).
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal-config").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

// initViper sets defaults and reads the configuration file. When no file is
// found on the search path a default one is written to the first path.
func initViper(v *viper.Viper) error {
	setDefaultConfig(v)

	v.SetEnvPrefix("FEEDERCAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// An explicit --config path skips the search
	if v.ConfigFileUsed() != "" {
		return v.ReadInConfig()
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		v.AddConfigPath(path)
	}

	err = v.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(v, configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded default config with a fresh system id
func createDefaultConfig(v *viper.Viper, dir string) error {
	configPath := filepath.Join(dir, "config.yaml")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(getDefaultConfig()), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	v.SetConfigFile(configPath)
	return v.ReadInConfig()
}

// getDefaultConfig returns the embedded config.yaml with the system id filled in.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		// embedded at build time, cannot fail at runtime
		panic(fmt.Sprintf("error reading embedded config file: %v", err))
	}
	return strings.Replace(string(data), `systemid: ""`, fmt.Sprintf("systemid: %q", uuid.New().String()), 1)
}

// WriteYAML writes settings as YAML with secrets masked. Used by the config command.
func WriteYAML(w io.Writer, settings *Settings) error {
	masked := *settings
	masked.MQTT.Password = maskSecret(masked.MQTT.Password)
	masked.Sessions.MySQL.Password = maskSecret(masked.Sessions.MySQL.Password)
	masked.Sentry.DSN = maskSecret(masked.Sentry.DSN)
	masked.Camera.URL = logger.RedactURL(masked.Camera.URL)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&masked); err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}
	return enc.Close()
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
