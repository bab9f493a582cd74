package fat

import (
	"io"
	"os"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/aligator/sdboot/checkpoint"
	"github.com/spf13/afero"
)

// Fs is a read-only afero.Fs view of a mounted volume. Names are the 8.3
// short names, matched case-insensitively.
type Fs struct {
	vol *Volume
}

// NewFs returns a read-only afero.Fs over v.
func NewFs(v *Volume) *Fs {
	return &Fs{vol: v}
}

// Volume returns the underlying volume.
func (fs *Fs) Volume() *Volume {
	return fs.vol
}

// lookup resolves name to its directory entry. The root directory has no
// entry and is reported with root set.
func (fs *Fs) lookup(name string) (entry Entry, root bool, err error) {
	clean := strings.Trim(path.Clean("/"+name), "/")
	if clean == "" {
		return Entry{}, true, nil
	}

	dir := fs.vol.OpenRoot()
	parts := strings.Split(clean, "/")
	for i, part := range parts {
		entry, err = findEntry(dir, part)
		if err != nil {
			return Entry{}, false, err
		}
		if i < len(parts)-1 {
			if !entry.IsDir() {
				return Entry{}, false, checkpoint.Wrap(syscall.ENOTDIR, os.ErrNotExist)
			}
			dir = fs.vol.OpenDir(entry.Cluster)
		}
	}
	return entry, false, nil
}

func findEntry(dir *Dir, name string) (Entry, error) {
	for {
		entry, err := dir.Next()
		if err == io.EOF {
			return Entry{}, checkpoint.Mark(os.ErrNotExist)
		}
		if err != nil {
			return Entry{}, err
		}
		if isDotEntry(entry) {
			continue
		}
		if strings.EqualFold(entry.ShortName(), name) {
			return entry, nil
		}
	}
}

func isDotEntry(e Entry) bool {
	return e.Name[0] == '.'
}

func (fs *Fs) Open(name string) (afero.File, error) {
	entry, root, err := fs.lookup(name)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: name, Err: err}
	}

	f := &aferoFile{
		fs:    fs,
		name:  name,
		entry: entry,
		root:  root,
	}
	if root || entry.IsDir() {
		return f, nil
	}

	f.file, err = fs.vol.Open(entry, ModeRead)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: name, Err: err}
	}
	return f, nil
}

func (fs *Fs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, &os.PathError{Op: "open", Path: name, Err: checkpoint.Mark(ErrWriteProtected)}
	}
	return fs.Open(name)
}

func (fs *Fs) Stat(name string) (os.FileInfo, error) {
	entry, root, err := fs.lookup(name)
	if err != nil {
		return nil, &os.PathError{Op: "stat", Path: name, Err: err}
	}
	if root {
		return rootFileInfo{}, nil
	}
	return entry.FileInfo(), nil
}

func (fs *Fs) Name() string {
	return "fat"
}

func readOnlyError(op, name string) error {
	return &os.PathError{Op: op, Path: name, Err: checkpoint.Mark(ErrWriteProtected)}
}

func (fs *Fs) Create(name string) (afero.File, error) {
	return nil, readOnlyError("create", name)
}

func (fs *Fs) Mkdir(name string, perm os.FileMode) error {
	return readOnlyError("mkdir", name)
}

func (fs *Fs) MkdirAll(path string, perm os.FileMode) error {
	return readOnlyError("mkdir", path)
}

func (fs *Fs) Remove(name string) error {
	return readOnlyError("remove", name)
}

func (fs *Fs) RemoveAll(path string) error {
	return readOnlyError("remove", path)
}

func (fs *Fs) Rename(oldname, newname string) error {
	return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: checkpoint.Mark(ErrWriteProtected)}
}

func (fs *Fs) Chmod(name string, mode os.FileMode) error {
	return readOnlyError("chmod", name)
}

func (fs *Fs) Chown(name string, uid, gid int) error {
	return readOnlyError("chown", name)
}

func (fs *Fs) Chtimes(name string, atime time.Time, mtime time.Time) error {
	return readOnlyError("chtimes", name)
}

// aferoFile adapts File and Dir to afero.File.
type aferoFile struct {
	fs    *Fs
	name  string
	entry Entry
	root  bool

	file   *File
	dir    *Dir
	closed bool
}

func (f *aferoFile) isDir() bool {
	return f.root || f.entry.IsDir()
}

func (f *aferoFile) Close() error {
	if f.closed {
		return checkpoint.Mark(afero.ErrFileClosed)
	}
	f.closed = true
	if f.file != nil {
		return f.file.Close()
	}
	return nil
}

func (f *aferoFile) Read(p []byte) (int, error) {
	if f.closed {
		return 0, checkpoint.Mark(afero.ErrFileClosed)
	}
	if f.isDir() {
		return 0, checkpoint.Wrap(syscall.EISDIR, ErrDenied)
	}
	return f.file.Read(p)
}

// ReadAt reads through a second handle so that the position of f is kept.
func (f *aferoFile) ReadAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, checkpoint.Mark(afero.ErrFileClosed)
	}
	if f.isDir() {
		return 0, checkpoint.Wrap(syscall.EISDIR, ErrDenied)
	}
	if off >= int64(f.entry.Size) {
		return 0, io.EOF
	}

	other, err := f.fs.vol.Open(f.entry, ModeRead)
	if err != nil {
		return 0, err
	}
	if _, err := other.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := io.ReadFull(other, p)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}

func (f *aferoFile) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, checkpoint.Mark(afero.ErrFileClosed)
	}
	if f.isDir() {
		if offset == 0 && whence == io.SeekStart {
			f.dir = nil
			return 0, nil
		}
		return 0, checkpoint.Wrap(syscall.EISDIR, ErrDenied)
	}
	return f.file.Seek(offset, whence)
}

func (f *aferoFile) Write(p []byte) (int, error) {
	return 0, checkpoint.Mark(ErrWriteProtected)
}

func (f *aferoFile) WriteAt(p []byte, off int64) (int, error) {
	return 0, checkpoint.Mark(ErrWriteProtected)
}

func (f *aferoFile) WriteString(s string) (int, error) {
	return 0, checkpoint.Mark(ErrWriteProtected)
}

func (f *aferoFile) Truncate(size int64) error {
	return checkpoint.Mark(ErrWriteProtected)
}

func (f *aferoFile) Sync() error {
	return nil
}

func (f *aferoFile) Name() string {
	return f.name
}

func (f *aferoFile) Stat() (os.FileInfo, error) {
	if f.root {
		return rootFileInfo{}, nil
	}
	return f.entry.FileInfo(), nil
}

// Readdir reads the next count entries of a directory, all remaining ones
// if count <= 0. With count > 0 an exhausted directory returns io.EOF.
func (f *aferoFile) Readdir(count int) ([]os.FileInfo, error) {
	if f.closed {
		return nil, checkpoint.Mark(afero.ErrFileClosed)
	}
	if !f.isDir() {
		return nil, checkpoint.Wrap(syscall.ENOTDIR, ErrDenied)
	}

	if f.dir == nil {
		if f.root {
			f.dir = f.fs.vol.OpenRoot()
		} else {
			f.dir = f.fs.vol.OpenDir(f.entry.Cluster)
		}
	}

	var result []os.FileInfo
	for count <= 0 || len(result) < count {
		entry, err := f.dir.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return result, err
		}
		if isDotEntry(entry) {
			continue
		}
		result = append(result, entry.FileInfo())
	}

	if count > 0 && len(result) == 0 {
		return nil, io.EOF
	}
	return result, nil
}

func (f *aferoFile) Readdirnames(count int) ([]string, error) {
	content, err := f.Readdir(count)
	names := make([]string, len(content))
	for i, entry := range content {
		names[i] = entry.Name()
	}
	return names, err
}
