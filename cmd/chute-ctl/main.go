package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
)

// ============================================================================
// chute-ctl - Command-line IPC Client
// ============================================================================
// This tool sends commands to the chuted daemon via its Unix socket.
//
// Usage:
//   chute-ctl release
//   chute-ctl enable
//   chute-ctl disable
//   chute-ctl param-set CHUTE_ALT_MIN 15
//   chute-ctl param-get CHUTE_TYPE
//   chute-ctl status
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/chuted.sock)
// ============================================================================

// Wire types (duplicated from the daemon for a standalone binary).

type eventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type manualReleaseData struct {
	Origin string `json:"origin"`
}

type paramData struct {
	Name  string  `json:"name"`
	Value float64 `json:"value,omitempty"`
}

type ipcResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`

	Release *struct {
		OK     bool   `json:"ok"`
		Reason string `json:"reason,omitempty"`
	} `json:"release,omitempty"`

	Param *struct {
		Name  string  `json:"name"`
		Value float64 `json:"value"`
		OK    bool    `json:"ok"`
		Err   string  `json:"err,omitempty"`
	} `json:"param,omitempty"`

	State json.RawMessage `json:"state,omitempty"`
}

func main() {
	socketPath := "/tmp/chuted.sock"

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	var env eventEnvelope

	switch args[0] {
	case "release", "deploy":
		env.Type = "manual_release"
		env.Data = mustMarshal(manualReleaseData{Origin: "chute-ctl"})

	case "enable":
		env.Type = "param_set"
		env.Data = mustMarshal(paramData{Name: "CHUTE_ENABLED", Value: 1})

	case "disable":
		env.Type = "param_set"
		env.Data = mustMarshal(paramData{Name: "CHUTE_ENABLED", Value: 0})

	case "param-set", "set":
		if len(args) < 3 {
			fmt.Fprintf(os.Stderr, "error: param-set requires a name and a value\n")
			os.Exit(1)
		}
		value, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: invalid value %q: %v\n", args[2], err)
			os.Exit(1)
		}
		env.Type = "param_set"
		env.Data = mustMarshal(paramData{Name: args[1], Value: value})

	case "param-get", "get":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: param-get requires a name\n")
			os.Exit(1)
		}
		env.Type = "param_get"
		env.Data = mustMarshal(paramData{Name: args[1]})

	case "status":
		env.Type = "status"

	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "error: unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}

	resp, err := send(socketPath, env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	printResponse(env.Type, resp)
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	return b
}

func send(socketPath string, env eventEnvelope) (ipcResponse, error) {
	var resp ipcResponse

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return resp, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := json.Marshal(env)
	if err != nil {
		return resp, fmt.Errorf("marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return resp, fmt.Errorf("send event: %w", err)
	}

	decoder := json.NewDecoder(conn)
	if err := decoder.Decode(&resp); err != nil {
		return resp, fmt.Errorf("decode response: %w", err)
	}

	if resp.Status == "error" {
		return resp, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return resp, nil
}

func printResponse(eventType string, resp ipcResponse) {
	switch eventType {
	case "manual_release":
		fmt.Println("released")

	case "param_set", "param_get":
		if resp.Param != nil {
			fmt.Printf("%s = %g\n", resp.Param.Name, resp.Param.Value)
		} else {
			fmt.Println("ok")
		}

	case "status":
		if len(resp.State) > 0 {
			var pretty map[string]any
			if err := json.Unmarshal(resp.State, &pretty); err == nil {
				out, _ := json.MarshalIndent(pretty, "", "  ")
				fmt.Println(string(out))
				return
			}
			fmt.Println(string(resp.State))
		} else {
			fmt.Println("ok")
		}

	default:
		fmt.Println("ok")
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `chute-ctl - Control the chuted parachute daemon via IPC

Usage:
  chute-ctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/chuted.sock)

Commands:
  release, deploy            Request a manual parachute release
  enable                     Set CHUTE_ENABLED=1
  disable                    Set CHUTE_ENABLED=0
  param-set, set <name> <v>  Stage a parameter write (applies next tick)
  param-get, get <name>      Read a committed parameter value
  status                     Print the engine state snapshot
  help, -h, --help           Show this help message

Examples:
  chute-ctl enable
  chute-ctl param-set CHUTE_ALT_MIN 15
  chute-ctl -socket /var/run/chuted.sock release
`)
}
