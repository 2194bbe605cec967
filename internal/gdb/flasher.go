package gdb

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/muurk/target-tester/internal/gdb/scripts"
)

// Flasher writes images and dumps memory through GDB's remote protocol.
type Flasher struct {
	executor *Executor
	verify   bool
	flash    bool
}

// NewFlasher returns a Flasher using executor. With verify set each write is
// checked by OpenOCD's verify_image. flash must be set when images are linked
// for flash; gdb's restore only reaches RAM.
func NewFlasher(executor *Executor, verify, flash bool) *Flasher {
	return &Flasher{executor: executor, verify: verify, flash: flash}
}

// Flash writes data to addr. The core is left halted after reset.
func (f *Flasher) Flash(ctx context.Context, addr uint32, data []byte) error {
	cfg := f.executor.config

	file, err := os.CreateTemp(cfg.WorkDir, "target-tester-image-*.bin")
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

	script := scripts.NewLoadImageScript(cfg.Host, cfg.Port, file.Name(), addr, len(data), f.verify, f.flash)
	result, err := f.executor.Execute(ctx, script)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("gdb load failed: %w", resultError(result))
	}

	f.executor.logger.Info("image loaded via gdb",
		zap.String("address", fmt.Sprintf("0x%08x", addr)),
		zap.Int("size", len(data)),
		zap.Bool("flash", f.flash),
		zap.Int("bytes_written", result.BytesWritten),
	)
	return nil
}

// Dump reads size bytes at addr into outputFile.
func (f *Flasher) Dump(ctx context.Context, addr uint32, size int, outputFile string) error {
	cfg := f.executor.config
	script := scripts.NewDumpMemoryScript(cfg.Host, cfg.Port, addr, size, outputFile)

	result, err := f.executor.Execute(ctx, script)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("gdb dump failed: %w", resultError(result))
	}
	return nil
}

func resultError(r *scripts.Result) error {
	if r.Error != nil {
		return r.Error
	}
	return errors.New("no success marker in gdb output")
}
