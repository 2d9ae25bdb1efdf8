//go:build !linux

package restart

import "errors"

func reboot() error {
	return errors.New("reboot is only supported on linux")
}
