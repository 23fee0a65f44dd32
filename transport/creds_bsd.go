//go:build freebsd || dragonfly

package transport

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// platformPeerCredentials retrieves the peer's credentials via the
// LOCAL_PEERCRED socket option, the FreeBSD/DragonFly equivalent of
// Linux's SO_PEERCRED.
func platformPeerCredentials(fd int) (Credentials, error) {
	xuc, err := unix.GetsockoptXucred(fd, unix.SOL_LOCAL, unix.LOCAL_PEERCRED)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{PID: -1, UID: xuc.Uid, GID: xuc.Groups[0]}, nil
}

// wantsZeroByteCredentials reports whether this platform requires
// SCM_CREDS ancillary data on the handshake's initial zero byte.
// FreeBSD and DragonFly's dbus-daemon needs this to authenticate an
// EXTERNAL handshake over a unix socket; the kernel fills in the
// sender's real uid/gid/pid once it sees a (zeroed) cmsgcred
// structure attached to the message, so the contents we send don't
// matter, only its presence.
const wantsZeroByteCredentials = true

// sizeofCmsgcred matches FreeBSD's struct cmsgcred: pid, uid, euid,
// gid, ngroups (aligned), and an 16-entry gid array.
const sizeofCmsgcred = 4 + 4 + 4 + 4 + 4 + 16*4

func sendZeroByte(fd int) error {
	oob := make([]byte, unix.CmsgSpace(sizeofCmsgcred))
	h := (*unix.Cmsghdr)(unsafe.Pointer(&oob[0]))
	h.Level = unix.SOL_SOCKET
	h.Type = unix.SCM_CREDS
	h.SetLen(unix.CmsgLen(sizeofCmsgcred))

	_, err := unix.SendmsgN(fd, []byte{0}, oob, nil, 0)
	return err
}
