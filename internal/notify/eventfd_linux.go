//go:build linux

package notify

import "golang.org/x/sys/unix"

func eventfd() (int, error) {
	return unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
}
