// mqtt.go: Package mqtt publishes pipeline status to an MQTT broker.
package mqtt

import (
	"context"
	"strings"
	"time"

	"github.com/tphakala/feedercam/internal/conf"
	"github.com/tphakala/feedercam/internal/logger"
)

// Client defines the interface for MQTT client operations.
type Client interface {
	// Connect attempts to connect to the MQTT broker.
	// It returns an error if the connection fails.
	Connect(ctx context.Context) error

	// Publish sends payload to topic on the MQTT broker.
	Publish(ctx context.Context, topic string, payload []byte, retain bool) error

	// IsConnected returns true if the client is currently connected to the MQTT broker.
	IsConnected() bool

	// Disconnect closes the connection to the MQTT broker.
	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string // base topic, status goes to <Topic>/status
	Retain   bool   // true to retain status messages at the broker
	QoS      byte

	// Connection timeouts
	ConnectTimeout       time.Duration
	PublishTimeout       time.Duration
	DisconnectTimeout    time.Duration
	MaxReconnectInterval time.Duration
}

// DefaultConfig returns a Config with reasonable default values
func DefaultConfig() Config {
	return Config{
		Topic:                "feedercam",
		Retain:               true,
		QoS:                  1,
		ConnectTimeout:       30 * time.Second,
		PublishTimeout:       10 * time.Second,
		DisconnectTimeout:    250 * time.Millisecond,
		MaxReconnectInterval: 5 * time.Minute,
	}
}

// ConfigFromSettings builds a Config from the mqtt section. The client id is
// the node name, suffixed with the system id so two nodes with the same name
// do not kick each other off the broker.
func ConfigFromSettings(settings *conf.Settings) Config {
	cfg := DefaultConfig()
	cfg.Broker = settings.MQTT.Broker
	cfg.Username = settings.MQTT.Username
	cfg.Password = settings.MQTT.Password
	cfg.Retain = settings.MQTT.Retain
	if topic := strings.TrimSuffix(settings.MQTT.Topic, "/"); topic != "" {
		cfg.Topic = topic
	}

	cfg.ClientID = settings.Main.Name
	if cfg.ClientID == "" {
		cfg.ClientID = "feedercam"
	}
	if id := settings.Main.SystemID; id != "" {
		cfg.ClientID += "-" + id[:min(8, len(id))]
	}
	return cfg
}

// StatusTopic returns the topic status messages are published to.
func (c Config) StatusTopic() string {
	return c.Topic + "/status"
}

// GetLogger returns the mqtt logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("mqtt")
}
