//go:build linux

package ioloop

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/nmxmxh/wasabi-host/internal/hosterrors"
)

// fileEntry is the connection slab's filesystem counterpart: the stable
// slab index is the fd handed back to the guest.
type fileEntry struct {
	f *os.File
}

// resolvePath prepends root and rejects any path that would escape it
// after normalization: .. is resolved, but never past the root.
func resolvePath(root, guestPath string) (string, error) {
	cleaned := filepath.Clean("/" + guestPath)
	full := filepath.Join(root, cleaned)
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", hosterrors.ErrPathEscapesRoot
	}
	return full, nil
}

// openFlags maps the guest's fs.constants bitmask to stdlib open flags.
// O_RDWR wins over O_WRONLY; absent both, the file opens read-only.
func openFlags(mode int) int {
	const (
		oWronly = 1
		oRdwr   = 2
		oCreat  = 64
		oTrunc  = 512
		oAppend = 1024
		oExcl   = 128
	)
	flags := os.O_RDONLY
	switch {
	case mode&oRdwr != 0:
		flags = os.O_RDWR
	case mode&oWronly != 0:
		flags = os.O_WRONLY
	}
	if mode&oCreat != 0 {
		flags |= os.O_CREATE
	}
	if mode&oTrunc != 0 {
		flags |= os.O_TRUNC
	}
	if mode&oAppend != 0 {
		flags |= os.O_APPEND
	}
	if mode&oExcl != 0 {
		flags |= os.O_EXCL
	}
	return flags
}

func classifyFSError(err error) ErrorKind {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrorKindNotFound
	case errors.Is(err, fs.ErrExist):
		return ErrorKindAlreadyExists
	case errors.Is(err, fs.ErrPermission):
		return ErrorKindPermission
	default:
		return ErrorKindGeneric
	}
}

// SubmitOpen opens guestPath (relative to the loop's chroot) on the single
// worker goroutine, delivering a FileRef or Error response carrying id.
func (l *Loop) SubmitOpen(id int64, guestPath string, mode int, perm os.FileMode) {
	l.submit(func() Response {
		full, err := resolvePath(l.root, guestPath)
		if err != nil {
			return Response{Kind: KindError, ID: id, Msg: err.Error(), EKind: ErrorKindGeneric}
		}
		f, err := os.OpenFile(full, openFlags(mode), perm)
		if err != nil {
			return Response{Kind: KindError, ID: id, Msg: err.Error(), EKind: classifyFSError(err)}
		}
		idx := l.files.insert(fileEntry{f: f})
		return Response{Kind: KindFileRef, ID: id, FD: idx}
	})
}

// SubmitRead reads up to len(buf) bytes from file slab index fd, at
// absolute offset pos, or the current file offset when pos is negative
// (Node's fs.read passes a null position for "wherever the fd is"). EOF is
// not an error: it surfaces as a short or empty Read response.
func (l *Loop) SubmitRead(id int64, fd int, buf []byte, pos int64) {
	l.submit(func() Response {
		entry, err := l.files.mustGet(fd)
		if err != nil {
			return Response{Kind: KindError, ID: id, Msg: err.Error(), EKind: ErrorKindGeneric}
		}
		var n int
		if pos >= 0 {
			n, err = entry.f.ReadAt(buf, pos)
		} else {
			n, err = entry.f.Read(buf)
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return Response{Kind: KindError, ID: id, Msg: err.Error(), EKind: classifyFSError(err)}
		}
		return Response{Kind: KindRead, ID: id, Buf: buf[:n]}
	})
}

// SubmitWrite writes buf to file slab index fd.
func (l *Loop) SubmitWrite(id int64, fd int, buf []byte) {
	l.submit(func() Response {
		entry, err := l.files.mustGet(fd)
		if err != nil {
			return Response{Kind: KindError, ID: id, Msg: err.Error(), EKind: ErrorKindGeneric}
		}
		if _, err := entry.f.Write(buf); err != nil {
			return Response{Kind: KindError, ID: id, Msg: err.Error(), EKind: classifyFSError(err)}
		}
		return Response{Kind: KindSuccess, ID: id}
	})
}

// SubmitStatPath reports metadata for a path relative to the chroot root.
func (l *Loop) SubmitStatPath(id int64, guestPath string) {
	l.submit(func() Response {
		full, err := resolvePath(l.root, guestPath)
		if err != nil {
			return Response{Kind: KindError, ID: id, Msg: err.Error(), EKind: ErrorKindGeneric}
		}
		info, err := os.Stat(full)
		if err != nil {
			return Response{Kind: KindError, ID: id, Msg: err.Error(), EKind: classifyFSError(err)}
		}
		return Response{Kind: KindMetadata, ID: id, Meta: Metadata{Size: info.Size(), IsDir: info.IsDir()}}
	})
}

// SubmitStat reports file metadata.
func (l *Loop) SubmitStat(id int64, fd int) {
	l.submit(func() Response {
		entry, err := l.files.mustGet(fd)
		if err != nil {
			return Response{Kind: KindError, ID: id, Msg: err.Error(), EKind: ErrorKindGeneric}
		}
		info, err := entry.f.Stat()
		if err != nil {
			return Response{Kind: KindError, ID: id, Msg: err.Error(), EKind: classifyFSError(err)}
		}
		return Response{Kind: KindMetadata, ID: id, Meta: Metadata{Size: info.Size(), IsDir: info.IsDir()}}
	})
}

// closeFile closes the file at slab index fd; double-close is a no-op and
// the reserved standard-stream slots are never closed.
func (l *Loop) closeFile(fd int) error {
	if fd <= 2 {
		return nil
	}
	entry, ok := l.files.get(fd)
	if !ok {
		return nil
	}
	l.files.remove(fd)
	return entry.f.Close()
}

// SubmitClose closes a file on the worker goroutine and reports success.
func (l *Loop) SubmitClose(id int64, fd int) {
	l.submit(func() Response {
		if err := l.closeFile(fd); err != nil {
			return Response{Kind: KindError, ID: id, Msg: err.Error(), EKind: ErrorKindGeneric}
		}
		return Response{Kind: KindSuccess, ID: id}
	})
}
