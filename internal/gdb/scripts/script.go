package scripts

import (
	"time"
)

// Script represents a GDB operation that can be executed.
type Script interface {
	// Name returns a short identifier used for logging, error messages and
	// the temporary script file name.
	// Example: "load_image", "dump_memory"
	Name() string

	// Template returns the GDB script template content in text/template
	// syntax. Parameters come from Params().
	Template() string

	// Params returns the parameters substituted into the template.
	// Example: map[string]interface{}{
	//     "Host":    "localhost",
	//     "Port":    3333,
	//     "Address": "0x20000000",
	// }
	Params() map[string]interface{}

	// Parse extracts structured results from GDB stdout.
	Parse(output string) (*Result, error)
}

// Step statuses
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// SuccessMarker is echoed by every template once all steps completed.
const SuccessMarker = "[SUCCESS]"

// Result represents the outcome of executing a GDB script.
type Result struct {
	// Success indicates whether the overall operation succeeded.
	Success bool

	// Duration is how long the GDB script took to execute.
	Duration time.Duration

	// BytesWritten is the number of bytes written to the target.
	BytesWritten int

	// BytesRead is the number of bytes read from the target.
	BytesRead int

	// Steps contains progress information for multi-step operations,
	// taken from "[n/m] description" echo lines.
	Steps []Step

	// Data contains operation-specific parsed data.
	Data map[string]interface{}

	// Error contains the error if the operation failed.
	Error error

	// RawOutput contains the complete stdout from GDB.
	RawOutput string

	// RawStderr contains the complete stderr from GDB.
	RawStderr string
}

// Step represents a single step in a multi-step GDB operation.
//
//	echo [1/3] Halting target...\n
type Step struct {
	// Name is the step description, e.g. "[1/3] Halting target".
	Name string

	// Status is StatusSuccess or StatusFailed.
	Status string

	// Message provides additional context about the step.
	Message string
}

// NewResult creates a new Result with default values.
func NewResult() *Result {
	return &Result{
		Steps: make([]Step, 0),
		Data:  make(map[string]interface{}),
	}
}

// AddStep adds a step to the result.
func (r *Result) AddStep(name, status, message string) {
	r.Steps = append(r.Steps, Step{
		Name:    name,
		Status:  status,
		Message: message,
	})
}

// SetData sets a data value in the result.
func (r *Result) SetData(key string, value interface{}) {
	r.Data[key] = value
}

// GetDataString gets a string data value from the result.
// Returns empty string if the key doesn't exist or value is not a string.
func (r *Result) GetDataString(key string) string {
	if v, ok := r.Data[key].(string); ok {
		return v
	}
	return ""
}

// GetDataUint32 gets a uint32 data value from the result.
// Returns 0 if the key doesn't exist or value is not a uint32.
func (r *Result) GetDataUint32(key string) uint32 {
	if v, ok := r.Data[key].(uint32); ok {
		return v
	}
	return 0
}

// FailedSteps returns the count of failed steps.
func (r *Result) FailedSteps() int {
	count := 0
	for _, step := range r.Steps {
		if step.Status == StatusFailed {
			count++
		}
	}
	return count
}

// TotalSteps returns the total number of steps.
func (r *Result) TotalSteps() int {
	return len(r.Steps)
}
