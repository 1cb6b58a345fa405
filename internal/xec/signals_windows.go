//go:build windows

package xec

import "os"

func isRuntimeSig(_ os.Signal) bool {
	return false
}
