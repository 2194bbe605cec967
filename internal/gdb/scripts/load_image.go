package scripts

import (
	_ "embed"
	"fmt"
	"strings"
)

//go:embed templates/load_image.gdb.tmpl
var loadImageTemplate string

// LoadImageScript writes a raw binary file into target memory and leaves
// the core halted. RAM images go through gdb's restore. gdb refuses plain
// writes to regions OpenOCD's memory map marks as flash, so flash images are
// handed to OpenOCD's flash write_image instead.
type LoadImageScript struct {
	host      string
	port      int
	imageFile string
	address   uint32
	size      int
	verify    bool
	flash     bool
}

// NewLoadImageScript creates a script that writes imageFile (size bytes) to
// address. With verify set the written region is compared afterwards. flash
// selects the flash write path.
func NewLoadImageScript(host string, port int, imageFile string, address uint32, size int, verify, flash bool) *LoadImageScript {
	return &LoadImageScript{
		host:      host,
		port:      port,
		imageFile: imageFile,
		address:   address,
		size:      size,
		verify:    verify,
		flash:     flash,
	}
}

// Name returns the script name
func (s *LoadImageScript) Name() string {
	return "load_image"
}

// Template returns the embedded GDB script template
func (s *LoadImageScript) Template() string {
	return loadImageTemplate
}

// Params returns the template parameters
func (s *LoadImageScript) Params() map[string]interface{} {
	return map[string]interface{}{
		"Host":      s.host,
		"Port":      s.port,
		"ImageFile": s.imageFile,
		"Address":   fmt.Sprintf("0x%08x", s.address),
		"Size":      s.size,
		"Verify":    s.verify,
		"Flash":     s.flash,
	}
}

// Parse parses the GDB output
func (s *LoadImageScript) Parse(output string) (*Result, error) {
	result := NewResult()

	// OpenOCD reports each differing byte as "... Was 0xNN instead of 0xMM".
	if s.verify && strings.Contains(output, "instead of 0x") {
		result.Error = fmt.Errorf("verification failed: target memory at 0x%08x differs from the image", s.address)
		return result, nil
	}

	if strings.Contains(output, SuccessMarker) {
		result.Success = true
		result.SetData("address", s.address)
		return result, nil
	}

	result.Error = failureFromOutput("image load", s.address, output)
	return result, nil
}
