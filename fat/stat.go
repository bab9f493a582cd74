package fat

import (
	"os"
	"strings"
	"time"
)

// ShortName returns the 8.3 name of the entry as "NAME.EXT".
func (e Entry) ShortName() string {
	raw := e.Name
	if raw[0] == escapedE5 {
		raw[0] = deletedMarker
	}

	name := strings.TrimRight(string(raw[:8]), " ")
	ext := strings.TrimRight(string(raw[8:11]), " ")
	if ext != "" {
		name += "." + ext
	}
	return name
}

// ModTime returns the last modification time of the entry.
func (e Entry) ModTime() time.Time {
	return ParseTimestamp(e.WriteDate, e.WriteTime)
}

// FileInfo returns e as os.FileInfo.
func (e Entry) FileInfo() os.FileInfo {
	return entryFileInfo{e}
}

type entryFileInfo struct {
	entry Entry
}

func (i entryFileInfo) Name() string {
	return i.entry.ShortName()
}

func (i entryFileInfo) Size() int64 {
	return int64(i.entry.Size)
}

func (i entryFileInfo) Mode() os.FileMode {
	if i.IsDir() {
		return os.ModeDir | 0o555
	}
	if i.entry.Attr&AttrReadOnly != 0 {
		return 0o444
	}
	return 0o644
}

func (i entryFileInfo) ModTime() time.Time {
	return i.entry.ModTime()
}

func (i entryFileInfo) IsDir() bool {
	return i.entry.IsDir()
}

func (i entryFileInfo) Sys() interface{} {
	return i.entry
}

// rootFileInfo describes the root directory, which has no entry of its own.
type rootFileInfo struct{}

func (rootFileInfo) Name() string       { return "/" }
func (rootFileInfo) Size() int64        { return 0 }
func (rootFileInfo) Mode() os.FileMode  { return os.ModeDir | 0o555 }
func (rootFileInfo) ModTime() time.Time { return time.Time{} }
func (rootFileInfo) IsDir() bool        { return true }
func (rootFileInfo) Sys() interface{}   { return nil }
