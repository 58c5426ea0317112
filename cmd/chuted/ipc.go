package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// The IPC server lets local tools (chute-ctl, scripts, the GCS bridge)
// send commands to the daemon over a Unix domain socket.
//
// Protocol: Line-delimited JSON
//   - Client sends: {"type": "event_name", "data": {...}}
//   - Server responds: {"status": "ok", ...} or {"status": "error", "error": "msg"}
//
// Commands that produce an answer (manual_release, param_get, param_set,
// status) block the connection until the daemon replies or a one second
// timeout expires. The daemon handles events between ticks, so replies
// normally arrive within one tick period.
// ============================================================================

const ipcReplyTimeout = 1 * time.Second

// IPCResponse is the response sent back to IPC clients. Exactly one of the
// payload fields is set depending on the request type.
type IPCResponse struct {
	Status string `json:"status"`          // "ok" or "error"
	Error  string `json:"error,omitempty"` // set when status == "error"

	Release *ManualReleaseResult `json:"release,omitempty"`
	Param   *ParamReply          `json:"param,omitempty"`
	State   *EngineSnapshot      `json:"state,omitempty"`
}

// runIPCServer starts the Unix domain socket server. It runs until ctx is
// canceled, at which point it closes the listener and exits.
func runIPCServer(ctx context.Context, socketPath string, events chan<- Event, logger *slog.Logger) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Close the listener on shutdown. This unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
				logger.Debug("IPC listener closed")
				return nil
			}
			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(conn, events, logger)
	}
}

// handleIPCConnection processes a single IPC client connection.
func handleIPCConnection(conn net.Conn, events chan<- Event, logger *slog.Logger) {
	defer conn.Close()

	logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Text()
		logger.Debug("IPC received", "line", line)

		ev, err := UnmarshalEvent([]byte(line))
		if err != nil {
			writeIPCResponse(encoder, IPCResponse{Status: "error", Error: fmt.Sprintf("parse event: %v", err)}, logger)
			continue
		}

		writeIPCResponse(encoder, dispatchIPCEvent(ev, events), logger)
	}

	logger.Debug("IPC connection closed")
}

// dispatchIPCEvent attaches a reply channel to the event where one is
// needed, queues it for the daemon and waits for the answer.
func dispatchIPCEvent(ev Event, events chan<- Event) IPCResponse {
	switch e := ev.(type) {
	case ManualReleaseRequested:
		reply := make(chan ManualReleaseResult, 1)
		e.Reply = reply
		if !queueEvent(events, e) {
			return IPCResponse{Status: "error", Error: "event queue full"}
		}
		select {
		case res := <-reply:
			resp := IPCResponse{Status: "ok", Release: &res}
			if !res.OK {
				resp.Status = "error"
				resp.Error = res.Reason
			}
			return resp
		case <-time.After(ipcReplyTimeout):
			return IPCResponse{Status: "error", Error: "timeout waiting for daemon"}
		}

	case ParamSetRequested:
		reply := make(chan ParamReply, 1)
		e.Reply = reply
		return awaitParamReply(events, e, reply)

	case ParamGetRequested:
		reply := make(chan ParamReply, 1)
		e.Reply = reply
		return awaitParamReply(events, e, reply)

	case RequestStateSnapshot:
		reply := make(chan EngineSnapshot, 1)
		e.Reply = reply
		if !queueEvent(events, e) {
			return IPCResponse{Status: "error", Error: "event queue full"}
		}
		select {
		case snap := <-reply:
			return IPCResponse{Status: "ok", State: &snap}
		case <-time.After(ipcReplyTimeout):
			return IPCResponse{Status: "error", Error: "timeout waiting for daemon"}
		}

	default:
		// Fire-and-forget events have no reply.
		if !queueEvent(events, ev) {
			return IPCResponse{Status: "error", Error: "event queue full"}
		}
		return IPCResponse{Status: "ok"}
	}
}

func awaitParamReply(events chan<- Event, ev Event, reply <-chan ParamReply) IPCResponse {
	if !queueEvent(events, ev) {
		return IPCResponse{Status: "error", Error: "event queue full"}
	}
	select {
	case pr := <-reply:
		resp := IPCResponse{Status: "ok", Param: &pr}
		if !pr.OK {
			resp.Status = "error"
			resp.Error = pr.Err
		}
		return resp
	case <-time.After(ipcReplyTimeout):
		return IPCResponse{Status: "error", Error: "timeout waiting for daemon"}
	}
}

func queueEvent(events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	default:
		return false
	}
}

func writeIPCResponse(encoder *json.Encoder, resp IPCResponse, logger *slog.Logger) {
	if err := encoder.Encode(resp); err != nil {
		logger.Error("IPC failed to send response", "error", err)
	}
}

// ============================================================================
// IPC Client Utility Functions
// ============================================================================

// SendIPCEvent sends one event over the socket and returns the daemon's
// response.
func SendIPCEvent(socketPath string, ev Event) (IPCResponse, error) {
	var resp IPCResponse

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return resp, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := MarshalEvent(ev)
	if err != nil {
		return resp, fmt.Errorf("marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(conn, "%s\n", strings.TrimSpace(string(data))); err != nil {
		return resp, fmt.Errorf("send event: %w", err)
	}

	decoder := json.NewDecoder(conn)
	if err := decoder.Decode(&resp); err != nil {
		return resp, fmt.Errorf("decode response: %w", err)
	}

	if resp.Status != "ok" {
		return resp, fmt.Errorf("ipc error: %s", resp.Error)
	}
	return resp, nil
}
