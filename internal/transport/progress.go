package transport

import "io"

// ProgressFunc receives upload progress as bytes sent out of a known total.
type ProgressFunc func(sent, total int64)

// progressReader wraps a reader and reports cumulative bytes read. Progress
// is only reported when the count advances, so a retried read never walks
// the bar backwards.
type progressReader struct {
	r        io.Reader
	total    int64
	sent     int64
	reported int64
	callback ProgressFunc
}

func newProgressReader(r io.Reader, total int64, cb ProgressFunc) *progressReader {
	return &progressReader{r: r, total: total, callback: cb, reported: -1}
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 {
		pr.sent += int64(n)
		if pr.callback != nil && pr.sent > pr.reported {
			pr.reported = pr.sent
			pr.callback(pr.sent, pr.total)
		}
	}
	return n, err
}
