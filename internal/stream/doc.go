// Package stream distributes camera frames to MJPEG clients.
//
// A Pipeline owns one producer goroutine that copies frames from the camera
// into a framestore.Store, one dispatcher goroutine that admits clients, and
// one consumer goroutine per admitted client. Consumers poll the store and
// write every new frame as a multipart/x-mixed-replace part. Slow consumers
// skip frames; nobody waits for them.
//
// The producer parks on a condition variable while no clients are connected,
// so an idle node does not touch the camera at all.
package stream
