//go:build !windows

package fileops

import (
	"errors"
	"os"
	"syscall"
)

// isCrossDevice reports whether err is the EXDEV error os.Rename returns
// when src and dst live on different filesystems.
func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	return errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV)
}
