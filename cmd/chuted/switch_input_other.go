//go:build !linux

package main

import "os"

// startSwitchReader falls back to a plain blocking reader on non-Linux
// platforms (bench builds on a laptop).
func startSwitchReader(f *os.File, events chan<- inputEvent, readErr chan<- error) {
	readInputEvents(f, events, readErr)
}
