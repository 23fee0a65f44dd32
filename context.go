package dbus

import (
	"context"
	"os"
)

// filesContextKey is the context key that carries file descriptors
// received with a message, for an [Unmarshaler] to claim during
// UnmarshalDBus.
type filesContextKey struct{}

func withContextFiles(ctx context.Context, files []*os.File) context.Context {
	return context.WithValue(ctx, filesContextKey{}, files)
}

// ContextFile returns the idx-th file descriptor received with the
// message currently being unmarshaled, or nil if there is no such
// descriptor. It is the only way a [Unmarshaler] can retrieve a
// UNIX_FD value out of a message.
func ContextFile(ctx context.Context, idx uint32) *os.File {
	v := ctx.Value(filesContextKey{})
	if v == nil {
		return nil
	}
	fs, ok := v.([]*os.File)
	if !ok || int(idx) >= len(fs) {
		return nil
	}
	return fs[idx]
}

// writeFilesContextKey is the context key that carries the output
// slice of file descriptors accumulated while marshaling an outgoing
// message's body.
type writeFilesContextKey struct{}

func withContextPutFiles(ctx context.Context, files *[]*os.File) context.Context {
	return context.WithValue(ctx, writeFilesContextKey{}, files)
}

// ContextPutFile registers file to be sent as a UNIX_FD value
// alongside the message currently being marshaled, and returns the
// index a [Marshaler] should encode as that value's UNIX_FD index.
func ContextPutFile(ctx context.Context, file *os.File) (uint32, error) {
	v := ctx.Value(writeFilesContextKey{})
	fsp, ok := v.(*[]*os.File)
	if !ok || fsp == nil {
		return 0, unsupportedErrf("cannot attach a file descriptor: message is not being marshaled through EncodeMessage")
	}
	*fsp = append(*fsp, file)
	return uint32(len(*fsp) - 1), nil
}
