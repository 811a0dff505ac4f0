package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/GetRighhttt/HandlingNetworkConnectivity/internal/client"
	"github.com/GetRighhttt/HandlingNetworkConnectivity/internal/logger"
)

const usage = `Usage: reachctl [flags] <command>

Commands:
  watch    Follow reachability changes, reconnecting on failure
  state    Print the current reachability state
  health   Print the connectivity source health
  history  Print recorded reachability transitions

Flags:
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "reachctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("reachctl", flag.ContinueOnError)
	server := fs.String("server", "http://127.0.0.1:8080", "reachd base URL")
	token := fs.String("token", os.Getenv("REACHD_TOKEN"), "Auth token (default $REACHD_TOKEN)")
	asJSON := fs.Bool("json", false, "Print JSON instead of text")
	logLevel := fs.String("log-level", "warn", "Log level for connection diagnostics")
	quiet := fs.Bool("quiet", false, "Suppress connection diagnostics on stderr")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("expected exactly one command")
	}

	log, err := logger.New(logger.Config{Level: *logLevel, Format: "text", Quiet: *quiet})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	base := strings.TrimRight(*server, "/")
	switch cmd := fs.Arg(0); cmd {
	case "watch":
		wsURL, err := streamURL(base)
		if err != nil {
			return err
		}
		w := client.NewWatcher(wsURL, *token, client.WithLogger(log))
		err = w.Watch(ctx, func(ev client.Event) {
			printEvent(out, ev, *asJSON)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	case "state":
		st, err := client.NewHTTPClient(base, *token).State(ctx)
		if err != nil {
			return err
		}
		if *asJSON {
			return json.NewEncoder(out).Encode(st)
		}
		fmt.Fprintf(out, "%s (source=%s watching=%t observers=%d available=%s)\n",
			st.State, st.Status.Source, st.Status.Watching, st.Status.Observers, strings.Join(st.Status.Available, ","))
		return nil
	case "health":
		h, err := client.NewHTTPClient(base, *token).Health(ctx)
		if err != nil {
			return err
		}
		if *asJSON {
			return json.NewEncoder(out).Encode(h)
		}
		fmt.Fprintf(out, "%s %s (consecutive failures: %d)\n", h.Source, h.Status, h.ConsecutiveFailures)
		return nil
	case "history":
		h, err := client.NewHTTPClient(base, *token).History(ctx)
		if err != nil {
			return err
		}
		if *asJSON {
			return json.NewEncoder(out).Encode(h)
		}
		for _, tr := range h.Transitions {
			line := fmt.Sprintf("%s %s", tr.At.Local().Format(time.RFC3339), tr.State)
			if tr.Error != "" {
				line += ": " + tr.Error
			}
			fmt.Fprintln(out, line)
		}
		return nil
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// streamURL turns an http(s) base URL into the websocket stream URL.
func streamURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

func printEvent(out io.Writer, ev client.Event, asJSON bool) {
	if asJSON {
		rec := map[string]any{"event": ev.Kind.String(), "time": time.Now().UTC()}
		switch ev.Kind {
		case client.EventState:
			rec["state"] = ev.State
		case client.EventServerError:
			rec["error"] = ev.ServerError
		case client.EventDisconnected:
			if ev.Err != nil {
				rec["error"] = ev.Err.Error()
			}
		}
		json.NewEncoder(out).Encode(rec)
		return
	}

	switch ev.Kind {
	case client.EventState:
		line := fmt.Sprintf("%s %s", ev.State.At.Local().Format(time.RFC3339), ev.State.State)
		if ev.State.Error != "" {
			line += ": " + ev.State.Error
		}
		fmt.Fprintln(out, line)
	case client.EventServerError:
		fmt.Fprintf(out, "%s error: %v\n", time.Now().Format(time.RFC3339), ev.AsError())
	case client.EventConnected, client.EventDisconnected:
		fmt.Fprintf(out, "%s %s\n", time.Now().Format(time.RFC3339), ev.Kind)
	}
}
