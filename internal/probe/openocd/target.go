package openocd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/target-tester/internal/logging"
	"github.com/muurk/target-tester/internal/probe"
)

// chunkSize bounds the payload of one read_memory or write_memory command.
const chunkSize = 4096

// Download methods
const (
	MethodRAM   = "ram"
	MethodFlash = "flash"
	MethodGDB   = "gdb"
)

// Flasher writes an image by other means than the Tcl connection.
type Flasher interface {
	Flash(ctx context.Context, addr uint32, data []byte) error
}

// Options configures a Target.
type Options struct {
	// Address of the Tcl RPC server, host:port
	Address     string
	DialTimeout time.Duration
	Interface   probe.Interface
	Speed       probe.Speed
	// Method is MethodRAM, MethodFlash or MethodGDB
	Method string
	// SkipUnchanged compares target memory with the image before writing
	SkipUnchanged bool
	// Flasher is used by MethodGDB
	Flasher Flasher
	// WorkDir holds the temporary image used by MethodFlash
	WorkDir string
}

// Target is a probe.Connection backed by a running OpenOCD instance.
type Target struct {
	client *Client
	opts   Options
	logger *zap.Logger
}

var _ probe.Connection = (*Target)(nil)

// Connect dials OpenOCD and configures the adapter clock.
func Connect(ctx context.Context, opts Options, logger *zap.Logger) (*Target, error) {
	client, err := Dial(ctx, opts.Address, opts.DialTimeout, logger)
	if err != nil {
		return nil, probe.Wrap("connect", err)
	}
	t, err := New(ctx, client, opts, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	return t, nil
}

// New configures a Target on an established client.
func New(ctx context.Context, client *Client, opts Options, logger *zap.Logger) (*Target, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Method == "" {
		opts.Method = MethodRAM
	}
	if opts.Method == MethodGDB && opts.Flasher == nil {
		return nil, fmt.Errorf("download method gdb needs a flasher")
	}
	t := &Target{client: client, opts: opts, logger: logger}

	khz := opts.Speed.EffectiveKHz()
	if _, err := client.Exec(ctx, fmt.Sprintf("adapter speed %d", khz)); err != nil {
		return nil, probe.Wrap("connect", err)
	}

	if opts.Interface != "" {
		transport, err := client.Exec(ctx, "transport select")
		if err != nil {
			logger.Warn("could not query transport", zap.Error(err))
		} else if !strings.Contains(strings.ToLower(transport), string(opts.Interface)) {
			logger.Warn("OpenOCD transport differs from configured interface",
				zap.String("transport", transport),
				zap.String("interface", string(opts.Interface)),
			)
		}
	}

	logger.Info("OpenOCD target ready",
		zap.String("addr", opts.Address),
		zap.String("speed", opts.Speed.String()),
		zap.String("method", opts.Method),
	)
	return t, nil
}

// ReadRAM implements probe.MemoryReader.
func (t *Target) ReadRAM(ctx context.Context, addr uint32, length int) ([]byte, error) {
	out := make([]byte, 0, length)
	for off := 0; off < length; off += chunkSize {
		n := min(chunkSize, length-off)
		a := addr + uint32(off)
		reply, err := t.client.Exec(ctx, fmt.Sprintf("read_memory 0x%08x 8 %d", a, n))
		if err != nil {
			return nil, probe.Wrap("read_ram", err)
		}
		chunk, err := parseBytes(reply)
		if err != nil {
			return nil, probe.Wrap("read_ram", err)
		}
		if len(chunk) != n {
			return nil, probe.Wrap("read_ram", fmt.Errorf("read %d bytes at 0x%08x, expected %d", len(chunk), a, n))
		}
		out = append(out, chunk...)
	}
	if length <= 64 {
		t.logger.Debug("read_ram", append([]zap.Field{logging.Addr("addr", addr)}, logging.RawBytes(out)...)...)
	}
	return out, nil
}

// WriteRAM implements probe.MemoryWriter.
func (t *Target) WriteRAM(ctx context.Context, addr uint32, data []byte) error {
	for off := 0; off < len(data); off += chunkSize {
		end := min(off+chunkSize, len(data))
		cmd := fmt.Sprintf("write_memory 0x%08x 8 {%s}", addr+uint32(off), formatBytes(data[off:end]))
		if _, err := t.client.Exec(ctx, cmd); err != nil {
			return probe.Wrap("write_ram", err)
		}
	}
	return nil
}

// Halt implements probe.Connection.
func (t *Target) Halt(ctx context.Context, timeout time.Duration) error {
	_, err := t.client.Exec(ctx, fmt.Sprintf("halt %d", timeout.Milliseconds()))
	return probe.Wrap("halt", err)
}

// Run implements probe.Connection.
func (t *Target) Run(ctx context.Context) error {
	_, err := t.client.Exec(ctx, "resume")
	return probe.Wrap("run", err)
}

// ResetRun implements probe.Connection.
func (t *Target) ResetRun(ctx context.Context, stackPointer, entryPoint uint32) error {
	for _, cmd := range []string{
		"reset halt",
		fmt.Sprintf("reg sp 0x%08x", stackPointer),
		fmt.Sprintf("reg pc 0x%08x", entryPoint),
		"resume",
	} {
		if _, err := t.client.Exec(ctx, cmd); err != nil {
			return probe.Wrap("reset_run", err)
		}
	}
	return nil
}

// Download implements probe.Connection.
func (t *Target) Download(ctx context.Context, addr uint32, data []byte) error {
	if t.opts.SkipUnchanged {
		// Reading flash or RAM is much faster than rewriting it.
		current, err := t.ReadRAM(ctx, addr, len(data))
		if err == nil && bytes.Equal(current, data) {
			t.logger.Info("target memory already holds the image, skipping download",
				logging.Addr("addr", addr), zap.Int("size", len(data)))
			return nil
		}
		if err != nil {
			t.logger.Debug("pre-download compare failed", zap.Error(err))
		}
	}

	start := time.Now()
	var err error
	switch t.opts.Method {
	case MethodRAM:
		if _, err = t.client.Exec(ctx, fmt.Sprintf("halt %d", 1000)); err == nil {
			err = t.WriteRAM(ctx, addr, data)
		}
	case MethodFlash:
		err = t.flash(ctx, addr, data)
	case MethodGDB:
		err = t.opts.Flasher.Flash(ctx, addr, data)
	default:
		err = fmt.Errorf("unknown download method %q", t.opts.Method)
	}
	if err != nil {
		return probe.Wrap("download", err)
	}

	t.logger.Info("image downloaded",
		zap.String("method", t.opts.Method),
		logging.Addr("addr", addr),
		zap.Int("size", len(data)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func (t *Target) flash(ctx context.Context, addr uint32, data []byte) error {
	file, err := os.CreateTemp(t.opts.WorkDir, "target-tester-image-*.bin")
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	defer os.Remove(file.Name())

	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("failed to write image file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to write image file: %w", err)
	}

	if _, err := t.client.Exec(ctx, "reset halt"); err != nil {
		return err
	}
	_, err = t.client.Exec(ctx, fmt.Sprintf("flash write_image erase {%s} 0x%08x bin", file.Name(), addr))
	return err
}

// Close implements probe.Connection.
func (t *Target) Close() error {
	return t.client.Close()
}

// parseBytes decodes a read_memory reply such as "0x8c 0x3f 0x0".
func parseBytes(reply string) ([]byte, error) {
	fields := strings.Fields(reply)
	out := make([]byte, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseUint(f, 0, 8)
		if err != nil {
			return nil, fmt.Errorf("malformed memory value %q", f)
		}
		out[i] = byte(v)
	}
	return out, nil
}

func formatBytes(data []byte) string {
	var b strings.Builder
	b.Grow(len(data) * 5)
	for i, v := range data {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "0x%02x", v)
	}
	return b.String()
}
