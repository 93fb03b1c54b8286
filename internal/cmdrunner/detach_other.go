//go:build !unix

package cmdrunner

import "syscall"

func detachAttr() *syscall.SysProcAttr {
	return nil
}
