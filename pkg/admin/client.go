package admin

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/corvidlabs/metakeeper/pkg/types"
)

// Control commands understood by the metadata server's admin endpoint.
const (
	CmdStatus    = "STATUS"
	CmdPromote   = "PROMOTE"
	CmdStopQuick = "STOP-QUICK"
	CmdSave      = "SAVE"
	CmdRestart   = "RESTART"
	CmdReload    = "RELOAD"
)

// Status is the fixed-order tuple the admin endpoint reports:
// role, connection state, metadata version, and optionally where the
// version was read from (defaults to live).
type Status struct {
	Role       types.ReplicaRole
	Connection types.ConnectionState
	Version    uint64
	Source     types.VersionSource
}

// Client talks the line protocol of the local metadata server's admin
// endpoint. The shared secret is sent on the connection, never on a
// command line.
type Client struct {
	host           string
	port           int
	secret         string
	connectTimeout time.Duration
	commandTimeout time.Duration
}

// NewClient creates an admin client for the given endpoint.
func NewClient(host string, port int, secret string, connectTimeout, commandTimeout time.Duration) *Client {
	return &Client{
		host:           host,
		port:           port,
		secret:         secret,
		connectTimeout: connectTimeout,
		commandTimeout: commandTimeout,
	}
}

// Query asks the server for its current status tuple.
func (c *Client) Query() (*Status, error) {
	line, err := c.roundTrip(CmdStatus)
	if err != nil {
		return nil, err
	}
	return parseStatus(line)
}

// Command issues a control command and fails unless the server answers OK.
func (c *Client) Command(cmd string) error {
	line, err := c.roundTrip(cmd)
	if err != nil {
		return err
	}
	if line != "OK" {
		return fmt.Errorf("admin command %s failed: %s", cmd, line)
	}
	return nil
}

// roundTrip opens a connection, authenticates, sends one command and reads
// one response line. Each lifecycle invocation is short-lived, so there is
// no connection reuse.
func (c *Client) roundTrip(cmd string) (string, error) {
	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	conn, err := net.DialTimeout("tcp", addr, c.connectTimeout)
	if err != nil {
		return "", fmt.Errorf("admin dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.commandTimeout)); err != nil {
		return "", fmt.Errorf("admin deadline: %w", err)
	}

	if _, err := fmt.Fprintf(conn, "AUTH %s\n%s\n", c.secret, cmd); err != nil {
		return "", fmt.Errorf("admin send %s: %w", cmd, err)
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("admin read %s: %w", cmd, err)
	}
	line = strings.TrimRight(line, "\r\n")

	if rest, ok := strings.CutPrefix(line, "ERROR: "); ok {
		return "", fmt.Errorf("admin %s: %s", cmd, rest)
	}
	return line, nil
}

// parseStatus parses "role connection version [source]".
func parseStatus(line string) (*Status, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 || len(fields) > 4 {
		return nil, fmt.Errorf("unexpected status line %q", line)
	}

	role := types.ReplicaRole(fields[0])
	switch role {
	case types.RoleMaster, types.RoleShadow:
	default:
		return nil, fmt.Errorf("unexpected role %q in status line %q", fields[0], line)
	}

	conn := types.ConnectionState(fields[1])
	switch conn {
	case types.ConnRunning, types.ConnStopping, types.ConnStarting, types.ConnBusy,
		types.ConnConnected, types.ConnDisconnected, types.ConnSyncing:
	default:
		return nil, fmt.Errorf("unexpected connection state %q in status line %q", fields[1], line)
	}

	version, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("unexpected version %q in status line %q", fields[2], line)
	}

	source := types.SourceLive
	if len(fields) == 4 {
		switch types.VersionSource(fields[3]) {
		case types.SourceLive:
			source = types.SourceLive
		case types.SourceDump:
			source = types.SourceDump
		default:
			return nil, fmt.Errorf("unexpected version source %q in status line %q", fields[3], line)
		}
	}

	return &Status{Role: role, Connection: conn, Version: version, Source: source}, nil
}
