package httpengine

import "bytes"

// countingReader wraps an in-memory response body so download progress can
// be reported as the caller consumes it, without re-reading the body twice.
type countingReader struct {
	r   *bytes.Reader
	cb  Callback
	now int64
}

func newCountingReader(buf []byte, cb Callback) *countingReader {
	return &countingReader{r: bytes.NewReader(buf), cb: cb}
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.now += int64(n)

		if c.cb != nil {
			c.cb.OnDownloadProgress(int64(c.r.Len())+c.now, c.now)
		}
	}

	return n, err
}
