package progress

import "io"

// Reader wraps an io.Reader and invokes a callback every interval bytes, and
// each time another tenth of the known total has been read.
type Reader struct {
	r          io.Reader
	total      int64
	interval   int64
	onProgress func(read int64, total int64)

	read       int64
	sinceLast  int64
	lastDecile int64
}

func NewReader(r io.Reader, total int64, interval int64, cb func(read int64, total int64)) *Reader {
	return &Reader{
		r:          r,
		total:      total,
		interval:   interval,
		onProgress: cb,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n <= 0 || pr.onProgress == nil {
		return n, err
	}

	pr.read += int64(n)
	pr.sinceLast += int64(n)

	report := pr.interval > 0 && pr.sinceLast >= pr.interval

	if pr.total > 0 {
		if decile := pr.read * 10 / pr.total; decile > pr.lastDecile {
			pr.lastDecile = decile
			report = true
		}
	}

	if report {
		pr.onProgress(pr.read, pr.total)
		pr.sinceLast = 0
	}

	return n, err
}

// BytesRead returns the number of bytes read so far.
func (pr *Reader) BytesRead() int64 {
	return pr.read
}
