// internal/reporting/reporter.go
package reporting

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/trace"
)

// Reporter writes traces to an output.
type Reporter interface {
	// Write processes one finished trace.
	Write(t *trace.Trace) error
	// Close finalizes the report and closes any underlying resources (e.g., file handles).
	Close() error
}

// Formats lists the accepted output formats.
var Formats = []string{"text", "json", "sarif"}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for format. An empty outputPath or "stdout" writes to stdout
// without closing it.
func New(format, outputPath string, stdout io.Writer, logger *zap.Logger, toolVersion string) (Reporter, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	switch format {
	case "text", "json", "sarif":
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		writer = &nopWriteCloser{stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	switch format {
	case "sarif":
		return NewSARIFReporter(writer, logger, toolVersion), nil
	case "json":
		return NewJSONReporter(writer), nil
	default:
		return NewTextReporter(writer), nil
	}
}
