package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/0MATRIX0/agent-connect/internal/hub"
)

// detachKey is Ctrl-], as in telnet.
const detachKey = 0x1d

// exitError carries a process exit code out of a command without printing
// an error.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func newAttachCmd(opts *rootOptions) *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "attach <session-id>",
		Short: "Attach this terminal to a running session",
		Long: `Attach this terminal to a session as one more viewer. The scrollback is
replayed first, then live output follows. Press Ctrl-] to detach; the
session keeps running.

When the session ends, attach exits with the agent's exit code.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			wsURL, err := websocketURL(serverURL(server, cfg), args[0])
			if err != nil {
				return err
			}

			fd := int(os.Stdin.Fd())
			if !term.IsTerminal(fd) {
				fd = -1
			}
			return attach(cmd.Context(), wsURL, os.Stdin, fd, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVarP(&server, "server", "s", "", "server URL (default $AGENT_CONNECT_URL or the configured address)")
	return cmd
}

// websocketURL maps the API base URL to the session's websocket endpoint.
func websocketURL(base, sessionID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", base, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server URL %q: unsupported scheme", base)
	}
	u.Path = "/ws/sessions/" + url.PathEscape(sessionID)
	u.RawQuery = ""
	return u.String(), nil
}

// serverFrame is any frame the server sends a viewer.
type serverFrame struct {
	Type     hub.MessageType `json:"type"`
	Data     string          `json:"data"`
	ExitCode *int            `json:"exitCode"`
	Signal   *string         `json:"signal"`
}

type attachConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (a *attachConn) send(msg hub.ClientMessage) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	a.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return a.conn.WriteJSON(msg)
}

func (a *attachConn) sendSize(fd int) {
	cols, rows, err := term.GetSize(fd)
	if err != nil || cols <= 0 || rows <= 0 {
		return
	}
	_ = a.send(hub.ClientMessage{Type: hub.MessageTypeResize, Cols: cols, Rows: rows})
}

// attach relays in to the session and its output to out until the session
// exits or the user detaches. fd is the terminal behind in, or -1.
func attach(ctx context.Context, wsURL string, in io.Reader, fd int, out, errOut io.Writer) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return errors.New("session not found")
		}
		return fmt.Errorf("connect %s: %w", wsURL, err)
	}
	defer conn.Close()
	a := &attachConn{conn: conn}

	done := make(chan struct{})
	defer close(done)

	var detached atomic.Bool
	stop := func() {
		detached.Store(true)
		a.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "detach"),
			time.Now().Add(time.Second))
		a.writeMu.Unlock()
		conn.Close()
	}

	nl := "\n"
	if fd >= 0 {
		state, err := term.MakeRaw(fd)
		if err == nil {
			defer term.Restore(fd, state)
			nl = "\r\n"
		}

		winch := make(chan os.Signal, 1)
		signal.Notify(winch, unix.SIGWINCH)
		defer signal.Stop(winch)
		go func() {
			for {
				select {
				case <-winch:
					a.sendSize(fd)
				case <-done:
					return
				}
			}
		}()
		a.sendSize(fd)
		fmt.Fprint(errOut, "[attached, press Ctrl-] to detach]"+nl)
	}

	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := in.Read(buf)
			if n > 0 {
				chunk := buf[:n]
				if fd >= 0 {
					if i := bytes.IndexByte(chunk, detachKey); i >= 0 {
						if i > 0 {
							_ = a.send(hub.ClientMessage{Type: hub.MessageTypeInput, Data: string(chunk[:i])})
						}
						stop()
						return
					}
				}
				if a.send(hub.ClientMessage{Type: hub.MessageTypeInput, Data: string(chunk)}) != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if detached.Load() {
				fmt.Fprint(errOut, nl+"[detached]"+nl)
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)
		}

		var frame serverFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		switch frame.Type {
		case hub.MessageTypeScrollback, hub.MessageTypeOutput:
			io.WriteString(out, frame.Data)
		case hub.MessageTypeExit:
			return sessionExit(frame, errOut, nl)
		}
	}
}

func sessionExit(frame serverFrame, errOut io.Writer, nl string) error {
	switch {
	case frame.Signal != nil:
		fmt.Fprintf(errOut, "%s[session killed by %s]%s", nl, *frame.Signal, nl)
		return &exitError{code: 1}
	case frame.ExitCode != nil:
		fmt.Fprintf(errOut, "%s[session exited with code %d]%s", nl, *frame.ExitCode, nl)
		if *frame.ExitCode != 0 {
			return &exitError{code: *frame.ExitCode}
		}
		return nil
	default:
		fmt.Fprint(errOut, nl+"[session ended]"+nl)
		return nil
	}
}
