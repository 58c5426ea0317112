package main

import (
	"context"
	"log/slog"
	"time"
)

// ============================================================================
// Central Daemon Loop - Reducer-driven engine brain
// ============================================================================
//
// Design rules enforced here:
//   - The reducer performs no I/O and computes: next state + commands.
//   - The daemon loop is the only place side effects run (runEffect).
//   - Parameter reads/writes are daemon-loop concerns: set requests stage
//     into the store and commit at the next tick boundary, so the reducer
//     always sees one coherent ParamSnapshot per event.
//   - Explicit event and command queues; no nested/re-entrant execution.
//
// ============================================================================

// runDaemon is the main daemon loop that:
//   - Receives Events from the telemetry link, IPC, WS and the switch
//   - Emits Tick events on the engine cadence with a monotonic ms clock
//   - Reduces events into (state, commands, broadcasts)
//   - Executes commands against the actuator and GCS links
//
// Shutdown semantics:
//   - Exits when ctx is canceled
//   - Exits cleanly when the events channel is closed
func runDaemon(
	ctx context.Context,
	events <-chan Event,
	store *ParamStore,
	act Actuator,
	notify Notifier,
	gcs TextSender,
	broadcasts chan<- Broadcast,
	tickHz int,
	logger *slog.Logger,
) {
	if store == nil {
		logger.Error("param store is nil")
		return
	}
	if tickHz <= 0 {
		tickHz = defaultTickHz
	}

	tickInterval := time.Second / time.Duration(tickHz)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	// Engine clock: monotonic, milliseconds, wraps with uint32. Derived
	// from the runtime monotonic reading so wall clock steps never move it.
	start := time.Now()
	nowMS := func() uint32 {
		return uint32(time.Since(start).Milliseconds())
	}

	state := &EngineState{}
	params := store.Snapshot()

	// Explicit queues:
	// - eventQueue holds events awaiting reduction
	// - cmdQueue holds commands awaiting execution
	var eventQueue []Event
	var cmdQueue []Command

	enqueueEvent := func(ev Event) {
		eventQueue = append(eventQueue, ev)
	}
	enqueueCommands := func(cmds []Command) {
		if len(cmds) == 0 {
			return
		}
		cmdQueue = append(cmdQueue, cmds...)
	}

	publishBroadcasts := func(bcasts []Broadcast) {
		for _, b := range bcasts {
			select {
			case broadcasts <- b:
			default:
				logger.Warn("broadcast queue full, dropping broadcast")
			}
		}
	}

	// Reduce all queued events, enqueuing any resulting commands.
	flushEvents := func() {
		for len(eventQueue) > 0 {
			ev := eventQueue[0]
			eventQueue = eventQueue[1:]

			// Parameter requests never reach the reducer: they act on the
			// store, and writes take effect at the next tick boundary.
			switch pe := ev.(type) {
			case ParamSetRequested:
				applied, err := store.Set(pe.Name, pe.Value)
				reply := ParamReply{Name: pe.Name, Value: applied, OK: err == nil}
				if err != nil {
					reply.Err = err.Error()
					logger.Warn("param set rejected", "name", pe.Name, "value", pe.Value, "error", err)
				} else {
					logger.Info("param staged", "name", pe.Name, "value", applied)
				}
				sendParamReply(pe.Reply, reply, logger)
				continue

			case ParamGetRequested:
				val, known := store.Get(pe.Name)
				reply := ParamReply{Name: pe.Name, Value: val, OK: known}
				if !known {
					reply.Err = "unknown parameter: " + pe.Name
				}
				sendParamReply(pe.Reply, reply, logger)
				continue
			}

			rr := Reduce(state, ev, params)
			if rr.State != nil {
				state = rr.State
			}
			enqueueCommands(rr.Commands)
			publishBroadcasts(rr.Broadcasts)
		}
	}

	// Execute all queued commands.
	flushCommands := func() {
		for len(cmdQueue) > 0 {
			cmd := cmdQueue[0]
			cmdQueue = cmdQueue[1:]

			logger.Debug("executing command", "command", cmd.String())
			runEffect(act, notify, gcs, cmd, logger)
		}
	}

	logger.Info("engine loop starting", "tick_hz", tickHz)

	for {
		select {
		case <-ctx.Done():
			logger.Info("engine loop stopping (context canceled)")
			return

		case ev, ok := <-events:
			if !ok {
				logger.Info("engine loop stopping (events channel closed)")
				return
			}
			enqueueEvent(ev)
			flushEvents()
			flushCommands()

		case now := <-ticker.C:
			// Tick boundary: commit staged parameter writes so the whole
			// tick runs against one snapshot.
			params = store.Commit()

			enqueueEvent(Tick{Now: now, NowMS: nonzeroMS(nowMS())})
			flushEvents()
			flushCommands()
		}
	}
}

func sendParamReply(ch chan ParamReply, reply ParamReply, logger *slog.Logger) {
	if ch == nil {
		return
	}
	select {
	case ch <- reply:
	default:
		logger.Warn("param reply channel not ready, dropping reply", "name", reply.Name)
	}
}
