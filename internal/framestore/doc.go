// Package framestore holds the double-buffered frame store that sits between
// the camera producer and the per-client stream consumers.
//
// The producer copies each new frame into the inactive slot without holding
// any lock, then takes the hand-off gate only long enough to swap the active
// slot and bump the sequence number. Readers copy the active slot out under
// the same gate, so a snapshot never mixes bytes of two frames.
//
// Buffer growth goes through an Allocator. A failed allocation is treated as
// unrecoverable and handed to the FatalHandler, which in production restarts
// the process.
package framestore
