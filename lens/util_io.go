package lens

import (
	"errors"
	"fmt"
	"io"
)

type teeWriter struct {
	writers []io.Writer
}

// TeeWriter duplicates writes across the given writers, nil writers are skipped. Close closes every
// writer that implements io.Closer, such as a rotating log file.
func TeeWriter(writers ...io.Writer) io.WriteCloser {
	tw := &teeWriter{}
	for _, w := range writers {
		if w != nil {
			tw.writers = append(tw.writers, w)
		}
	}
	return tw
}

func (w *teeWriter) Write(p []byte) (int, error) {
	var errs []error
	for _, dst := range w.writers {
		if n, err := dst.Write(p); err != nil {
			errs = append(errs, err)
		} else if n != len(p) {
			errs = append(errs, fmt.Errorf("uneven write %d != %d", n, len(p)))
		}
	}
	if len(errs) > 0 {
		return 0, errors.Join(errs...)
	}
	return len(p), nil
}

func (w *teeWriter) Close() error {
	var errs []error
	for _, dst := range w.writers {
		if c, ok := dst.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
