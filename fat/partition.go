package fat

import (
	"bytes"

	"github.com/aligator/sdboot/checkpoint"
)

type probeResult uint8

const (
	probeFAT probeResult = iota
	probeNotFAT
	probeInvalid
)

// probe loads sector and checks whether it is a FAT boot sector. A valid boot
// record which is not FAT is usually an MBR.
func (v *Volume) probe(sector uint32) (probeResult, error) {
	if err := v.win.load(v, sector); err != nil {
		return probeInvalid, err
	}

	bs := v.win.view()
	if bs.u16(bs55AA) != bootSignature {
		return probeInvalid, nil
	}
	if bytes.Equal(bs[bsFilSysType:bsFilSysType+3], []byte("FAT")) {
		return probeFAT, nil
	}
	if bytes.Equal(bs[bsFilSysType32:bsFilSysType32+5], []byte("FAT32")) && bs.u8(bpbExtFlags)&0x80 == 0 {
		return probeFAT, nil
	}
	return probeNotFAT, nil
}

// partitionEntry is one slot of a partition table.
type partitionEntry struct {
	kind  uint8
	start uint32
}

func (e partitionEntry) extended() bool {
	return e.kind == ptExtendedCHS || e.kind == ptExtendedLBA
}

// partitionTable decodes the partition table of the resident sector.
func (v *Volume) partitionTable() [mbrEntries]partitionEntry {
	var table [mbrEntries]partitionEntry
	buf := v.win.view()
	for i := range table {
		entry := buf[mbrTable+i*mbrEntrySize : mbrTable+(i+1)*mbrEntrySize]
		table[i] = partitionEntry{
			kind:  entry[ptType],
			start: view(entry).u32(ptStartLBA),
		}
	}
	return table
}

// locate finds the boot sector of the requested partition and leaves it
// resident in the window.
func (v *Volume) locate(partition int) (uint32, error) {
	var (
		bootSector uint32
		result     probeResult
		err        error
	)

	switch {
	case partition == 0:
		result, err = v.probe(0)
		if err != nil || result != probeNotFAT {
			break
		}
		for _, entry := range v.partitionTable() {
			if entry.kind == 0 || entry.extended() {
				continue
			}
			bootSector = entry.start
			result, err = v.probe(bootSector)
			if err != nil || result == probeFAT {
				break
			}
		}

	case partition <= mbrEntries:
		if err = v.win.load(v, 0); err != nil {
			break
		}
		result = probeNotFAT
		entry := v.partitionTable()[partition-1]
		if entry.kind != 0 {
			bootSector = entry.start
			result, err = v.probe(bootSector)
		}

	default:
		bootSector, result, err = v.locateLogical(partition - mbrEntries)
	}

	if err != nil {
		return 0, checkpoint.Wrap(err, ErrNoFilesystem)
	}
	if result != probeFAT {
		return 0, checkpoint.Mark(ErrNoFilesystem)
	}
	return bootSector, nil
}

// locateLogical walks the extended partition chain to the n-th logical
// drive. Links are relative to the first extended partition, the logical
// drive itself to its own extended boot record.
func (v *Volume) locateLogical(n int) (uint32, probeResult, error) {
	if err := v.win.load(v, 0); err != nil {
		return 0, probeInvalid, err
	}

	var first, ebr uint32
	for ; n > 0; n-- {
		link, ok := findPartition(v.partitionTable(), partitionEntry.extended)
		if !ok {
			return 0, probeInvalid, nil
		}
		ebr = first + link.start
		if first == 0 {
			first = ebr
		}
		if err := v.win.load(v, ebr); err != nil {
			return 0, probeInvalid, err
		}
	}

	drive, ok := findPartition(v.partitionTable(), func(e partitionEntry) bool {
		return e.kind != 0 && !e.extended()
	})
	if !ok {
		return 0, probeInvalid, nil
	}

	bootSector := ebr + drive.start
	result, err := v.probe(bootSector)
	return bootSector, result, err
}

func findPartition(table [mbrEntries]partitionEntry, match func(partitionEntry) bool) (partitionEntry, bool) {
	for _, entry := range table {
		if match(entry) {
			return entry, true
		}
	}
	return partitionEntry{}, false
}
