//go:build !linux && !freebsd && !dragonfly

package transport

import "golang.org/x/sys/unix"

// platformPeerCredentials is not implemented on this platform and
// always returns an error. The handshake does not call it.
func platformPeerCredentials(fd int) (Credentials, error) {
	return Credentials{}, errf("peer credential retrieval is not implemented on this platform")
}

const wantsZeroByteCredentials = false

func sendZeroByte(fd int) error {
	_, err := unix.Write(fd, []byte{0})
	return err
}
