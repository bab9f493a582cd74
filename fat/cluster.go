package fat

import "github.com/aligator/sdboot/checkpoint"

func (v *Volume) validCluster(c uint32) bool {
	return c >= 2 && c < v.maxCluster
}

// NextCluster returns the FAT entry of cluster c: the next cluster of the
// chain, an end of chain marker or 0 for a free cluster. It returns
// ClusterInvalid if c is out of range or the FAT could not be read, the
// latter together with the error.
func (v *Volume) NextCluster(c uint32) (uint32, error) {
	if !v.validCluster(c) {
		return ClusterInvalid, nil
	}

	switch v.fsType {
	case FAT12:
		offset := c + c/2
		if err := v.win.move(v, v.fatBase+offset/SectorSize); err != nil {
			return ClusterInvalid, err
		}
		lo := uint32(v.win.buf[offset%SectorSize])
		offset++
		// The entry may straddle two FAT sectors.
		if err := v.win.move(v, v.fatBase+offset/SectorSize); err != nil {
			return ClusterInvalid, err
		}
		entry := lo | uint32(v.win.buf[offset%SectorSize])<<8
		if c&1 == 1 {
			return entry >> 4, nil
		}
		return entry & 0xFFF, nil

	case FAT16:
		if err := v.win.move(v, v.fatBase+c/(SectorSize/2)); err != nil {
			return ClusterInvalid, err
		}
		return uint32(v.win.view().u16(int(c*2) % SectorSize)), nil

	case FAT32:
		if err := v.win.move(v, v.fatBase+c/(SectorSize/4)); err != nil {
			return ClusterInvalid, err
		}
		return v.win.view().u32(int(c*4)%SectorSize) & fat32Mask, nil
	}
	return ClusterInvalid, nil
}

// putCluster writes the FAT entry of cluster c. The change stays in the
// window until it is written back.
func (v *Volume) putCluster(c, value uint32) error {
	if !v.validCluster(c) {
		return checkpoint.Mark(ErrInvalidObject)
	}

	switch v.fsType {
	case FAT12:
		offset := c + c/2
		if err := v.win.move(v, v.fatBase+offset/SectorSize); err != nil {
			return err
		}
		p := &v.win.buf[offset%SectorSize]
		if c&1 == 1 {
			*p = *p&0x0F | byte(value<<4)
		} else {
			*p = byte(value)
		}
		v.win.markDirty()

		offset++
		if err := v.win.move(v, v.fatBase+offset/SectorSize); err != nil {
			return err
		}
		p = &v.win.buf[offset%SectorSize]
		if c&1 == 1 {
			*p = byte(value >> 4)
		} else {
			*p = *p&0xF0 | byte(value>>8)&0x0F
		}

	case FAT16:
		if err := v.win.move(v, v.fatBase+c/(SectorSize/2)); err != nil {
			return err
		}
		v.win.view().putU16(int(c*2)%SectorSize, uint16(value))

	case FAT32:
		if err := v.win.move(v, v.fatBase+c/(SectorSize/4)); err != nil {
			return err
		}
		off := int(c*4) % SectorSize
		// The upper four bits are reserved and must be preserved.
		old := v.win.view().u32(off)
		v.win.view().putU32(off, old&^fat32Mask|value&fat32Mask)

	default:
		return checkpoint.Mark(ErrInvalidObject)
	}

	v.win.markDirty()
	return nil
}

// createChain appends a free cluster to the chain ending in c, or starts a
// new chain if c is 0. If c already has a successor, that one is returned.
// It returns 0 if the volume is full.
func (v *Volume) createChain(c uint32) (uint32, error) {
	var start uint32
	if c == 0 {
		start = v.lastCluster
		if start == 0 || start >= v.maxCluster {
			start = 1
		}
	} else {
		next, err := v.NextCluster(c)
		if err != nil {
			return 0, err
		}
		if next < 2 {
			return 0, checkpoint.Mark(ErrInvalidObject)
		}
		if next < v.maxCluster {
			return next, nil
		}
		start = c
	}

	candidate := start
	for {
		candidate++
		if candidate >= v.maxCluster {
			candidate = 2
			if candidate > start {
				return 0, nil
			}
		}

		entry, err := v.NextCluster(candidate)
		if err != nil {
			return 0, err
		}
		if entry == 0 {
			break
		}
		if candidate == start {
			return 0, nil
		}
	}

	if err := v.putCluster(candidate, endOfChain); err != nil {
		return 0, err
	}
	if c != 0 {
		if err := v.putCluster(c, candidate); err != nil {
			return 0, err
		}
	}

	v.lastCluster = candidate
	if v.freeClusters != unknownFree {
		v.freeClusters--
		v.fsiDirty = true
	}
	return candidate, nil
}
