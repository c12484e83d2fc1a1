package netlayer

import (
	"io"

	"golang.org/x/sys/unix"

	"github.com/wireproto/engine/pkg/wireerr"
)

func syscallRead(fd int, p []byte) (int, error) {
	n, err := unix.Read(fd, p)
	if n == 0 && err == nil {
		return 0, io.EOF
	}
	return n, err
}

func syscallWrite(fd int, p []byte) (int, error) {
	return unix.Write(fd, p)
}

func isWouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}

func classifyReadErr(err error) error {
	if err == io.EOF {
		return wireerr.New(wireerr.Closed, "network: peer closed")
	}
	return wireerr.Wrap(wireerr.Transport, "network: read failed", err)
}
