//go:build !linux

package notify

import "github.com/momentics/hioload-ipc/api"

func eventfd() (int, error) {
	return -1, api.ErrNotSupported
}
