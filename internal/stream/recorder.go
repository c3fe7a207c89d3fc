package stream

import "time"

// Frame drop reasons reported to the Recorder
const (
	DropReasonEmpty  = "empty"
	DropReasonCamera = "camera_error"
)

// Recorder receives pipeline measurements. observability/metrics.StreamMetrics
// implements it.
type Recorder interface {
	SetActiveClients(n int)
	SetProducerRunning(running bool)
	FramePublished(size int, d time.Duration)
	FrameSkipped()
	FrameDropped(reason string)
	FrameSent(size int)
	ClientAdmitted()
	ClientRejected()
	SpawnFailed()
	EventDropped()
}

type noopRecorder struct{}

func (noopRecorder) SetActiveClients(int)              {}
func (noopRecorder) SetProducerRunning(bool)           {}
func (noopRecorder) FramePublished(int, time.Duration) {}
func (noopRecorder) FrameSkipped()                     {}
func (noopRecorder) FrameDropped(string)               {}
func (noopRecorder) FrameSent(int)                     {}
func (noopRecorder) ClientAdmitted()                   {}
func (noopRecorder) ClientRejected()                   {}
func (noopRecorder) SpawnFailed()                      {}
func (noopRecorder) EventDropped()                     {}
