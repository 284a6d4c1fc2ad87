//go:build !linux

package posix

import (
	"io"

	"github.com/sirupsen/logrus"
)

// wrapSequentialRead is a no-op outside Linux: fadvise has no portable
// equivalent.
func wrapSequentialRead(rc io.ReadCloser, log *logrus.Entry) io.ReadCloser {
	return rc
}
