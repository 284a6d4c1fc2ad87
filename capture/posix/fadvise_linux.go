//go:build linux

package posix

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// fadvise wraps a content read with POSIX_FADV_SEQUENTIAL and
// periodically issues POSIX_FADV_DONTNEED behind it, so hashing a
// large source file during capture doesn't leave the whole thing
// resident in the page cache afterwards.
type fadvise struct {
	fd      int
	lastPos int64
	curPos  int64
	window  int64
	log     *logrus.Entry
}

const fadviseWindowPages = 32

func newFadvise(fd int, log *logrus.Entry) *fadvise {
	return &fadvise{
		fd:     fd,
		window: int64(os.Getpagesize()) * fadviseWindowPages,
		log:    log,
	}
}

func (f *fadvise) sequential() bool {
	if err := unix.Fadvise(f.fd, 0, 0, unix.FADV_SEQUENTIAL); err != nil {
		f.log.WithError(err).Debug("fadvise sequential failed")
		return false
	}
	return true
}

func (f *fadvise) next(n int) {
	f.curPos += int64(n)
	if f.curPos >= f.lastPos+f.window {
		f.freePages()
	}
}

func (f *fadvise) freePages() {
	if err := unix.Fadvise(f.fd, f.lastPos, f.curPos-f.lastPos, unix.FADV_DONTNEED); err != nil {
		f.log.WithError(err).Debug("fadvise dontneed failed")
	}
	f.lastPos = f.curPos
}

type fadviseReadCloser struct {
	*fadvise
	inner io.ReadCloser
}

// wrapSequentialRead wraps an *os.File open for reading with the
// fadvise hint above; any other reader passes through untouched.
func wrapSequentialRead(rc io.ReadCloser, log *logrus.Entry) io.ReadCloser {
	f, ok := rc.(*os.File)
	if !ok {
		return rc
	}
	w := &fadviseReadCloser{fadvise: newFadvise(int(f.Fd()), log), inner: f}
	if !w.sequential() {
		return f
	}
	return w
}

func (f *fadviseReadCloser) Read(p []byte) (int, error) {
	n, err := f.inner.Read(p)
	f.next(n)
	return n, err
}

func (f *fadviseReadCloser) Close() error {
	f.freePages()
	return f.inner.Close()
}
