package simulation

import (
	"bytes"
	"fmt"
)

// Limits bounds how much engine output the service will hold in memory.
type Limits struct {
	MaxStdoutBytes   int   // Captured stdout; the rest is discarded
	MaxStderrBytes   int   // Captured stderr; surfaced in execution errors
	MaxArtifactBytes int64 // Largest output table that will be parsed
}

func DefaultLimits() Limits {
	return Limits{
		MaxStdoutBytes:   256 * 1024,
		MaxStderrBytes:   64 * 1024,
		MaxArtifactBytes: 64 << 20,
	}
}

func (l Limits) Validate() error {
	if l.MaxStdoutBytes < 1 {
		return fmt.Errorf("max_stdout_bytes must be positive, got %d", l.MaxStdoutBytes)
	}
	if l.MaxStderrBytes < 1 {
		return fmt.Errorf("max_stderr_bytes must be positive, got %d", l.MaxStderrBytes)
	}
	if l.MaxArtifactBytes < 1 {
		return fmt.Errorf("max_artifact_bytes must be positive, got %d", l.MaxArtifactBytes)
	}
	return nil
}

// cappedBuffer keeps the first max bytes written and silently drops the
// rest, so a chatty engine never blocks on a full pipe.
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.max - c.buf.Len()
	if room <= 0 {
		if len(p) > 0 {
			c.truncated = true
		}
		return len(p), nil
	}
	if len(p) > room {
		c.buf.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	if c.truncated {
		return c.buf.String() + "\n... [output truncated]"
	}
	return c.buf.String()
}
