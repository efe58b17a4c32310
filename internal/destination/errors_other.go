//go:build !unix

package destination

import (
	"errors"
	"syscall"
)

func isQuotaErrno(err error) bool {
	return errors.Is(err, syscall.ENOSPC)
}
