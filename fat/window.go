package fat

import "github.com/aligator/sdboot/checkpoint"

// Window caches exactly one sector. It may be shared by several volumes, in
// which case the owning volume is part of the cache key.
//
// Sector 0 is the "no sector loaded" value. The boot sector and the MBR are
// loaded through load, which bypasses that check.
type Window struct {
	buf   [SectorSize]byte
	sect  uint32
	dirty bool
	owner *Volume
}

// NewWindow returns an empty sector window.
func NewWindow() *Window {
	return &Window{}
}

// Sector returns the resident sector number, 0 if none is loaded.
func (w *Window) Sector() uint32 {
	return w.sect
}

// Dirty reports whether the resident sector has unwritten changes.
func (w *Window) Dirty() bool {
	return w.dirty
}

// move makes sector of v resident. A dirty resident sector is written back
// first, including its FAT mirrors. Moving to sector 0 only writes back.
func (w *Window) move(v *Volume, sector uint32) error {
	if w.sect == sector && w.owner == v {
		return nil
	}

	if err := w.flush(); err != nil {
		return err
	}

	if sector != 0 {
		return w.read(v, sector)
	}
	return nil
}

// load reads sector of v unconditionally.
func (w *Window) load(v *Volume, sector uint32) error {
	if err := w.flush(); err != nil {
		return err
	}
	return w.read(v, sector)
}

func (w *Window) read(v *Volume, sector uint32) error {
	if err := v.dev.ReadBlock(sector, w.buf[:]); err != nil {
		// Unlike a failed write back, a failed read drops the resident
		// sector since the buffer content is undefined now.
		w.invalidate()
		return checkpoint.Wrap(err, ErrIO)
	}
	w.sect = sector
	w.owner = v
	return nil
}

// flush writes a dirty resident sector back to its volume. Sectors in the
// first FAT are replicated to all further copies, failures writing a copy
// are ignored.
func (w *Window) flush() error {
	if !w.dirty || w.owner == nil {
		return nil
	}

	v := w.owner
	if err := v.dev.WriteBlock(w.sect, w.buf[:]); err != nil {
		return checkpoint.Wrap(err, ErrIO)
	}
	w.dirty = false

	if w.sect >= v.fatBase && w.sect < v.fatBase+v.fatSize {
		mirror := w.sect
		for n := uint32(1); n < v.nFATs; n++ {
			mirror += v.fatSize
			_ = v.dev.WriteBlock(mirror, w.buf[:])
		}
	}
	return nil
}

func (w *Window) invalidate() {
	w.sect = 0
	w.owner = nil
	w.dirty = false
}

// markDirty flags the resident sector for write back.
func (w *Window) markDirty() {
	w.dirty = true
}

func (w *Window) view() view {
	return w.buf[:]
}
