// Package iohelper provides bounded reads of HTTP bodies. The tap
// observes every response the host client receives, so unbounded reads
// would let one oversized payload exhaust memory.
package iohelper

import "io"

// Body size limits for the observation paths.
const (
	// SmallMaxBodySize covers request bodies (form posts). (64KB)
	SmallMaxBodySize int64 = 64 * 1024

	// DefaultMaxBodySize covers typical API responses. (4MB)
	DefaultMaxBodySize int64 = 4 * 1024 * 1024
)

// ReadBody reads from r up to maxSize bytes. A nil reader yields an
// empty slice and no error.
func ReadBody(r io.Reader, maxSize int64) ([]byte, error) {
	if r == nil {
		return []byte{}, nil
	}
	return io.ReadAll(io.LimitReader(r, maxSize))
}

// ReadBodyDefault reads from r with the default limit.
func ReadBodyDefault(r io.Reader) ([]byte, error) {
	return ReadBody(r, DefaultMaxBodySize)
}

// DrainAndClose reads anything left in r and closes it if it is a
// ReadCloser, so the underlying connection can be reused.
// Always returns nil to allow use in defer.
func DrainAndClose(r io.Reader) error {
	if r == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 64*1024))
	if rc, ok := r.(io.ReadCloser); ok {
		rc.Close()
	}
	return nil
}
