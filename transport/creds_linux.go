//go:build linux

package transport

import "golang.org/x/sys/unix"

// platformPeerCredentials retrieves the peer's credentials via
// SO_PEERCRED, which the kernel populates from the socket's creator
// at connect() time and which a peer cannot spoof.
func platformPeerCredentials(fd int) (Credentials, error) {
	ucred, err := unix.GetsockoptUcred(fd, unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{PID: ucred.Pid, UID: ucred.Uid, GID: ucred.Gid}, nil
}

// wantsZeroByteCredentials reports whether this platform requires
// SCM_CREDENTIALS ancillary data on the handshake's initial zero
// byte. Linux derives credentials from the socket itself, so no
// special send is needed.
const wantsZeroByteCredentials = false

func sendZeroByte(fd int) error {
	_, err := unix.Write(fd, []byte{0})
	return err
}
