package reporting

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/trace"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONReporter writes every trace as an indented JSON document.
type JSONReporter struct {
	writer io.WriteCloser
	enc    *jsoniter.Encoder
}

// NewJSONReporter takes ownership of writer.
func NewJSONReporter(writer io.WriteCloser) *JSONReporter {
	enc := json.NewEncoder(writer)
	enc.SetIndent("", "  ")
	return &JSONReporter{writer: writer, enc: enc}
}

func (r *JSONReporter) Write(t *trace.Trace) error {
	if err := r.enc.Encode(t); err != nil {
		return fmt.Errorf("failed to encode trace %s: %w", t.ID, err)
	}
	return nil
}

func (r *JSONReporter) Close() error { return r.writer.Close() }
