package telemetry

import (
	"io"
	"os"
)

// Config holds configuration options for OpenTelemetry
type Config struct {
	ServiceName    string
	ServiceVersion string

	// MetricsEnabled installs the SDK meter provider and the Prometheus reader.
	// When false every instrument is a no-op.
	MetricsEnabled bool

	// TracingStdout exports spans to TraceWriter (stdout when nil)
	TracingStdout bool
	TraceWriter   io.Writer
}

func (c Config) traceWriter() io.Writer {
	if c.TraceWriter != nil {
		return c.TraceWriter
	}
	return os.Stdout
}
