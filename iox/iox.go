// Package iox holds the small cleanup helpers shared by the collector, the
// producer and the output sinks.
package iox

import "io"

// DiscardClose closes c and drops the error. For deferred closes of files
// and connections whose close error changes nothing:
//
//	defer iox.DiscardClose(conn)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc returns a func that closes c, for t.Cleanup:
//
//	t.Cleanup(iox.CloseFunc(nc))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// DiscardErr calls fn and drops its error, e.g. removing a temp file that
// may already be gone.
func DiscardErr(fn func() error) { _ = fn() }

// CloseWrite half-closes c if it is a *net.TCPConn, *net.UnixConn or
// anything else with CloseWrite. It reports whether the half-close
// succeeded.
func CloseWrite(c any) bool {
	hc, ok := c.(interface{ CloseWrite() error })
	if !ok {
		return false
	}
	return hc.CloseWrite() == nil
}

// Drain reads r to EOF and discards the bytes, returning how many were
// read. Read errors end the drain.
func Drain(r io.Reader) int64 {
	n, _ := io.Copy(io.Discard, r)
	return n
}
