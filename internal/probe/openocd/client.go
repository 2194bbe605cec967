package openocd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// terminator ends every Tcl RPC message in both directions.
const terminator = 0x1a

// DefaultCommandTimeout bounds one RPC round trip when the context carries
// no deadline. Flash programming can take a while.
const DefaultCommandTimeout = 60 * time.Second

// ErrClosed is returned after Close.
var ErrClosed = errors.New("openocd connection is closed")

// CommandError is an error raised by the Tcl command itself.
type CommandError struct {
	// Command is the command as sent, without the catch wrapper
	Command string
	// Message is the Tcl error message
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("openocd command %q failed: %s", e.Command, e.Message)
}

// Client speaks OpenOCD's Tcl RPC protocol.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
	logger  *zap.Logger
	closed  bool
}

// Dial connects to the Tcl RPC server at addr (usually localhost:6666).
func Dial(ctx context.Context, addr string, dialTimeout time.Duration, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to OpenOCD at %s: %w", addr, err)
	}
	logger.Debug("connected to OpenOCD", zap.String("addr", addr))
	return NewClient(conn, logger), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		timeout: DefaultCommandTimeout,
		logger:  logger,
	}
}

// Exec runs one Tcl command and returns its result. Tcl errors are returned
// as *CommandError; I/O failures as plain errors.
func (c *Client) Exec(ctx context.Context, command string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return "", err
	}

	// Interrupt a blocked read when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	c.logger.Debug("tcl >", zap.String("cmd", command))

	if _, err := c.conn.Write(append([]byte(wrap(command)), terminator)); err != nil {
		return "", c.ioError(ctx, "send", err)
	}

	reply, err := c.reader.ReadString(terminator)
	if err != nil {
		return "", c.ioError(ctx, "receive", err)
	}
	reply = strings.TrimSuffix(reply, string(rune(terminator)))

	c.logger.Debug("tcl <", zap.String("reply", truncate(reply, 256)))

	return parseReply(command, reply)
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

func (c *Client) ioError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	// The socket deadline may fire just before the context timer does.
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return context.DeadlineExceeded
	}
	return fmt.Errorf("tcl %s: %w", op, err)
}

// wrap makes the command report its status in-band, since the RPC server
// returns error text and results the same way.
func wrap(command string) string {
	return fmt.Sprintf(`set _tt_rc [catch {%s} _tt_out]; format "%%d %%s" $_tt_rc $_tt_out`, command)
}

func parseReply(command, reply string) (string, error) {
	code, rest, _ := strings.Cut(reply, " ")
	rc, err := strconv.Atoi(code)
	if err != nil {
		return "", fmt.Errorf("malformed reply to %q: %q", command, truncate(reply, 64))
	}
	rest = strings.TrimSpace(rest)
	if rc != 0 {
		return "", &CommandError{Command: command, Message: rest}
	}
	return rest, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
