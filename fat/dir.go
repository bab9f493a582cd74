package fat

import (
	"io"

	"github.com/aligator/sdboot/checkpoint"
)

// Entry is the snapshot of a directory entry. The name is kept in its raw
// 8.3 form; decoding it is left to the caller.
type Entry struct {
	Name      [11]byte
	Attr      byte
	Size      uint32
	Cluster   uint32
	WriteTime uint16
	WriteDate uint16

	// Location of the entry, needed to update it after a write.
	dirSector uint32
	dirIndex  uint32
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool {
	return e.Attr&AttrDirectory != 0
}

func decodeEntry(raw view, sector, index uint32) Entry {
	e := Entry{
		Attr:      raw.u8(dirAttr),
		Size:      raw.u32(dirFileSize),
		Cluster:   uint32(raw.u16(dirFstClusHI))<<16 | uint32(raw.u16(dirFstClusLO)),
		WriteTime: raw.u16(dirWrtTime),
		WriteDate: raw.u16(dirWrtDate),
		dirSector: sector,
		dirIndex:  index,
	}
	copy(e.Name[:], raw[dirName:dirName+11])
	return e
}

// Dir is a cursor over the entries of a directory.
type Dir struct {
	vol   *Volume
	sect  uint32
	clust uint32
	index uint32
}

// OpenRoot returns a cursor at the first entry of the root directory.
func (v *Volume) OpenRoot() *Dir {
	if v.fsType == FAT32 {
		return v.OpenDir(v.dirBase)
	}
	return &Dir{
		vol:  v,
		sect: v.dirBase,
	}
}

// OpenDir returns a cursor at the first entry of the directory starting at
// cluster. Cluster 0 is the root directory, as used by ".." entries.
func (v *Volume) OpenDir(cluster uint32) *Dir {
	if cluster == 0 {
		return v.OpenRoot()
	}
	return &Dir{
		vol:   v,
		clust: cluster,
		sect:  v.ClusterToSector(cluster),
	}
}

// Next returns the next entry that is neither deleted nor a volume label.
// Long name entries carry the volume bit and are skipped as well. It returns
// io.EOF at the end of the directory.
func (d *Dir) Next() (Entry, error) {
	if d.vol == nil {
		return Entry{}, checkpoint.Mark(ErrInvalidObject)
	}

	for d.sect != 0 {
		if err := d.vol.win.move(d.vol, d.sect); err != nil {
			return Entry{}, err
		}
		raw := entryAt(d.vol.win.buf[:], d.index)

		first := raw.u8(dirName)
		if first == 0 {
			d.sect = 0
			break
		}

		var (
			entry Entry
			found bool
		)
		if first != deletedMarker && raw.u8(dirAttr)&AttrVolume == 0 {
			entry = decodeEntry(raw, d.sect, d.index)
			found = true
		}

		ok, err := d.advance()
		if err != nil {
			return Entry{}, err
		}
		if !ok {
			d.sect = 0
		}

		if found {
			return entry, nil
		}
	}
	return Entry{}, io.EOF
}

// advance moves the cursor to the next entry. It reports false at the end
// of the fixed root region or of the cluster chain.
func (d *Dir) advance() (bool, error) {
	v := d.vol
	index := d.index + 1

	if index%entriesPerSector == 0 {
		d.sect++
		if d.clust == 0 {
			if index >= v.nRootDir {
				return false, nil
			}
		} else if (index/entriesPerSector)%v.csize == 0 {
			next, err := v.NextCluster(d.clust)
			if err != nil {
				return false, err
			}
			if !v.validCluster(next) {
				return false, nil
			}
			d.clust = next
			d.sect = v.ClusterToSector(next)
		}
	}

	d.index = index
	return true, nil
}
