package scripts

import (
	_ "embed"
	"fmt"
	"strings"
)

//go:embed templates/dump_memory.gdb.tmpl
var dumpMemoryTemplate string

// DumpMemoryScript dumps a region of target memory to a local file.
type DumpMemoryScript struct {
	host       string
	port       int
	address    uint32
	size       int
	outputFile string
}

// NewDumpMemoryScript creates a new memory dump script
func NewDumpMemoryScript(host string, port int, address uint32, size int, outputFile string) *DumpMemoryScript {
	return &DumpMemoryScript{
		host:       host,
		port:       port,
		address:    address,
		size:       size,
		outputFile: outputFile,
	}
}

// Name returns the script name
func (s *DumpMemoryScript) Name() string {
	return "dump_memory"
}

// Template returns the embedded GDB script template
func (s *DumpMemoryScript) Template() string {
	return dumpMemoryTemplate
}

// Params returns the template parameters
func (s *DumpMemoryScript) Params() map[string]interface{} {
	return map[string]interface{}{
		"Host":       s.host,
		"Port":       s.port,
		"Address":    fmt.Sprintf("0x%08x", s.address),
		"EndAddress": fmt.Sprintf("0x%08x", uint64(s.address)+uint64(s.size)),
		"Size":       s.size,
		"OutputFile": s.outputFile,
	}
}

// Parse parses the GDB output
func (s *DumpMemoryScript) Parse(output string) (*Result, error) {
	result := NewResult()

	if strings.Contains(output, SuccessMarker) {
		result.Success = true
		result.BytesRead = s.size
		result.SetData("address", s.address)
		result.SetData("output_file", s.outputFile)
		return result, nil
	}

	result.Error = failureFromOutput("memory dump", s.address, output)
	return result, nil
}
