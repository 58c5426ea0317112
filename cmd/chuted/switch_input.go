package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// ============================================================================
// Deploy switch - Linux evdev input
// ============================================================================
// The guarded cockpit/bench deploy switch appears as an evdev device. A key
// press with the configured code queues a manual release request; releases
// and repeats are ignored. Everything downstream (arming rules, altitude
// check, idempotence) lives in the engine.
// ============================================================================

const (
	evKey         = 0x01 // EV_KEY
	keyPressValue = 1    // value for press (0 release, 2 autorepeat)
)

// inputEvent mirrors the Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// readInputEvents reads input events from a single device and sends them to
// a channel. Portable fallback; on Linux the epoll reader is used instead.
func readInputEvents(f *os.File, events chan<- inputEvent, readErr chan<- error) {
	evSize := binary.Size(inputEvent{})
	buf := make([]byte, evSize)
	reader := bytes.NewReader(buf)

	for {
		if _, err := io.ReadFull(f, buf); err != nil {
			readErr <- err
			return
		}

		reader.Reset(buf)
		var ev inputEvent
		if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
			// Skip malformed events
			continue
		}

		events <- ev
	}
}

// runDeploySwitch watches the configured evdev device and turns presses of
// the configured key into manual release requests. It returns when ctx is
// canceled or the device goes away.
func runDeploySwitch(ctx context.Context, cfg SwitchConfig, events chan<- Event, logger *slog.Logger) error {
	f, err := os.Open(cfg.Device)
	if err != nil {
		return fmt.Errorf("open switch device %s: %w", cfg.Device, err)
	}
	defer f.Close()

	logger.Info("deploy switch watching", "device", cfg.Device, "key_code", cfg.KeyCode)

	rawEvents := make(chan inputEvent, 16)
	readErr := make(chan error, 1)
	go startSwitchReader(f, rawEvents, readErr)

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-readErr:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("switch device read: %w", err)

		case ev := <-rawEvents:
			if ev.Type != evKey || ev.Code != cfg.KeyCode || ev.Value != keyPressValue {
				continue
			}

			logger.Info("deploy switch pressed", "key_code", ev.Code)
			select {
			case events <- ManualReleaseRequested{Origin: "switch"}:
			default:
				logger.Warn("event queue full, dropping switch press")
			}
		}
	}
}
