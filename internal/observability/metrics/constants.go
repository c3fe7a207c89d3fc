// Package metrics provides the Prometheus collectors used by feedercam.
package metrics

// Histogram bucket layouts
const (
	// frame sizes, 4 KiB to 8 MiB
	BucketStartFrameBytes = 4096
	BucketFactor2         = 2
	BucketCountFrame      = 12

	// publish and request latencies, 0.1ms to ~0.8s
	BucketStart100us = 0.0001
	BucketCount14    = 14

	// MQTT message sizes, 64B to 32KiB
	BucketStart64B = 64
	BucketCount10  = 10
)

const namespace = "feedercam"
