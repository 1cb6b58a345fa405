package xec

import (
	"bytes"
	"io"
	"sync"
)

// MaskingWriter masks sensitive substrings in a stream, buffering across
// writes so a secret split between two Write calls is still caught.
type MaskingWriter struct {
	w    io.Writer
	mask *SensitiveMask
	buf  bytes.Buffer
}

// NewMaskingWriter wraps w, redacting any string registered on mask.
func NewMaskingWriter(w io.Writer, mask *SensitiveMask) io.WriteCloser {
	return &MaskingWriter{w: w, mask: mask}
}

// Write applies masking to p and writes the result to the wrapped writer.
func (m *MaskingWriter) Write(p []byte) (n int, err error) {
	m.buf.Write(p)

	data := m.buf.Bytes()
	masked, lastOrigEnd, lastMatchEnd := m.mask.ReplaceAll(data)

	if lastMatchEnd >= 0 {
		remaining := data[lastOrigEnd:]
		m.buf.Reset()
		m.buf.Write(remaining)
		if _, werr := m.w.Write(masked[:lastMatchEnd]); werr != nil {
			return 0, werr
		}
	}

	if m.shouldFlush(p) && !m.hasPotentialMatch() {
		if _, werr := m.w.Write(m.buf.Bytes()); werr != nil {
			return 0, werr
		}
		m.buf.Reset()
	}
	return len(p), nil
}

func (m *MaskingWriter) shouldFlush(p []byte) bool {
	if bytes.ContainsAny(p, "\n\r\t") {
		return true
	}
	return m.buf.Len() > 4096
}

// hasPotentialMatch reports whether the buffer's tail could be the prefix of
// a registered secret, in which case we must hold it back for the next write.
func (m *MaskingWriter) hasPotentialMatch() bool {
	if m.mask == nil || len(m.mask.strings) == 0 {
		return false
	}
	buf := m.buf.Bytes()
	for _, s := range m.mask.strings {
		if len(s) <= 1 {
			continue
		}
		max := len(s) - 1
		if max > len(buf) {
			max = len(buf)
		}
		for i := 1; i <= max; i++ {
			if bytes.HasSuffix(buf, s[:i]) {
				return true
			}
		}
	}
	return false
}

// Close flushes any remaining masked data.
func (m *MaskingWriter) Close() error {
	if m.buf.Len() > 0 {
		masked, _, _ := m.mask.ReplaceAll(m.buf.Bytes())
		if _, err := m.w.Write(masked); err != nil {
			return err
		}
		m.buf.Reset()
	}
	if c, ok := m.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// SensitiveMask holds the set of secrets to redact from any stream it decorates:
// sudo passwords, private key passphrases, askpass script contents.
type SensitiveMask struct {
	mx      sync.Mutex
	strings [][]byte
	mask    []byte
}

// NewSensitiveMask creates a mask that replaces registered secrets with maskText.
func NewSensitiveMask(maskText string) *SensitiveMask {
	return &SensitiveMask{mask: []byte(maskText)}
}

// AddString registers a secret to redact. Empty strings are ignored.
func (p *SensitiveMask) AddString(s string) {
	if s == "" {
		return
	}
	p.mx.Lock()
	defer p.mx.Unlock()
	p.strings = append(p.strings, []byte(s))
}

// String implements [fmt.Stringer] to never accidentally render secrets via %v.
func (p *SensitiveMask) String() string { return "" }

// ReplaceAll masks every occurrence of a registered secret in b, returning the
// masked bytes plus the original/masked offsets of the last full match — used
// by [MaskingWriter] to know how much of the buffer is safe to flush.
func (p *SensitiveMask) ReplaceAll(b []byte) (out []byte, lastBefore, lastAfter int) {
	lastBefore, lastAfter = -1, -1
	if p == nil || len(p.strings) == 0 {
		return b, lastBefore, lastAfter
	}

	var result bytes.Buffer
	start := 0
	for start < len(b) {
		matchIdx, matchLen := -1, 0
		for _, s := range p.strings {
			if idx := bytes.Index(b[start:], s); idx != -1 {
				abs := start + idx
				if matchIdx == -1 || abs < matchIdx {
					matchIdx, matchLen = abs, len(s)
				}
			}
		}
		if matchIdx == -1 {
			result.Write(b[start:])
			break
		}
		result.Write(b[start:matchIdx])
		result.Write(p.mask)
		start = matchIdx + matchLen
		lastBefore = start
		lastAfter = result.Len()
	}
	return result.Bytes(), lastBefore, lastAfter
}
