// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("main.name", "feedercam")
	v.SetDefault("main.systemid", "")

	v.SetDefault("camera.source", SourceTestPattern)
	v.SetDefault("camera.fps", 20)
	v.SetDefault("camera.width", 640)
	v.SetDefault("camera.height", 480)
	v.SetDefault("camera.quality", 75)
	v.SetDefault("camera.command", "rpicam-vid")
	v.SetDefault("camera.args", []string{"-t", "0", "--codec", "mjpeg", "-n", "-o", "-"})
	v.SetDefault("camera.timeout", 2*time.Second)

	v.SetDefault("stream.maxclients", 3)
	v.SetDefault("stream.pollinterval", 0)
	v.SetDefault("stream.maxframebytes", 4*1024*1024)
	v.SetDefault("stream.minfreememory", 16*1024*1024)
	v.SetDefault("stream.restartdelay", 5*time.Second)
	v.SetDefault("stream.eventbuffer", 64)

	v.SetDefault("webserver.enabled", true)
	v.SetDefault("webserver.port", "80")
	v.SetDefault("webserver.maxconnections", 32)
	v.SetDefault("webserver.jpgcachettl", 500*time.Millisecond)
	v.SetDefault("webserver.metrics", true)
	v.SetDefault("webserver.shutdowntimeout", 5*time.Second)
	v.SetDefault("webserver.autotls", false)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", "feedercam")
	v.SetDefault("mqtt.retain", true)

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.environment", "production")
	v.SetDefault("sentry.samplerate", 1.0)

	v.SetDefault("sessions.enabled", true)
	v.SetDefault("sessions.type", SessionStoreSQLite)
	v.SetDefault("sessions.path", "feedercam.db")
	v.SetDefault("sessions.mysql.host", "localhost")
	v.SetDefault("sessions.mysql.port", "3306")
	v.SetDefault("sessions.mysql.database", "feedercam")

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.flush_interval", 2*time.Second)
}
