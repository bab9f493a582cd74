package fat_test

import (
	"errors"
	"testing"

	"github.com/aligator/sdboot/fat"
	"github.com/aligator/sdboot/fat/fattest"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDevice = errors.New("device failure")

func format(t *testing.T, layout fattest.Layout) *fattest.Image {
	t.Helper()
	img, err := fattest.Format(layout)
	require.NoError(t, err)
	return img
}

func TestClassify(t *testing.T) {
	tests := []struct {
		maxCluster uint32
		want       fat.Type
	}{
		{maxCluster: 2, want: fat.FAT12},
		{maxCluster: 0xFF6, want: fat.FAT12},
		{maxCluster: 0xFF7, want: fat.FAT16},
		{maxCluster: 0xFFF6, want: fat.FAT16},
		{maxCluster: 0xFFF7, want: fat.FAT32},
		{maxCluster: 0x0FFFFFF5, want: fat.FAT32},
	}
	for _, tt := range tests {
		if got := fat.Classify(tt.maxCluster); got != tt.want {
			t.Errorf("Classify(%#x) = %v, want %v", tt.maxCluster, got, tt.want)
		}
	}
}

func TestMount(t *testing.T) {
	tests := []struct {
		name      string
		layout    fattest.Layout
		opts      []fat.MountOption
		wantType  fat.Type
		wantLabel string
	}{
		{
			name:      "FAT12 superfloppy",
			layout:    fattest.Layout{FATType: 12},
			wantType:  fat.FAT12,
			wantLabel: "SDBOOT",
		},
		{
			name:      "FAT16 with larger clusters",
			layout:    fattest.Layout{FATType: 16, SectorsPerCluster: 4, Label: "card"},
			wantType:  fat.FAT16,
			wantLabel: "CARD",
		},
		{
			name:      "FAT32 single FAT",
			layout:    fattest.Layout{FATType: 32, FATs: 1},
			wantType:  fat.FAT32,
			wantLabel: "SDBOOT",
		},
		{
			name:      "first primary partition found automatically",
			layout:    fattest.Layout{FATType: 16, PartitionStart: 63},
			wantType:  fat.FAT16,
			wantLabel: "SDBOOT",
		},
		{
			name:      "explicit primary partition",
			layout:    fattest.Layout{FATType: 32, PartitionStart: 2048},
			opts:      []fat.MountOption{fat.WithPartition(1)},
			wantType:  fat.FAT32,
			wantLabel: "SDBOOT",
		},
		{
			name:      "second logical drive",
			layout:    fattest.Layout{FATType: 12, PartitionStart: 100, Logical: true},
			opts:      []fat.MountOption{fat.WithPartition(6)},
			wantType:  fat.FAT12,
			wantLabel: "SDBOOT",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := format(t, tt.layout)

			v, err := fat.Mount(img.Disk, tt.opts...)
			require.NoError(t, err)

			assert.Equal(t, tt.wantType, v.Type())
			assert.Equal(t, tt.wantLabel, v.Label())
			assert.Equal(t, img.BootSector, v.BootSector())
			assert.Equal(t, img.FATBase, v.FATBase())
			assert.Equal(t, img.DataBase, v.DataBase())
			assert.Equal(t, img.MaxCluster, v.MaxCluster())
			assert.Equal(t, uint32(img.Layout.SectorsPerCluster), v.SectorsPerCluster())
			assert.Equal(t, v.DataBase(), v.ClusterToSector(2))
			assert.False(t, v.ReadOnly())
		})
	}
}

func TestMount_Errors(t *testing.T) {
	tests := []struct {
		name    string
		disk    func(t *testing.T) *fattest.Disk
		opts    []fat.MountOption
		wantErr error
	}{
		{
			name:    "empty disk",
			disk:    func(t *testing.T) *fattest.Disk { return fattest.NewDisk(64) },
			wantErr: fat.ErrNoFilesystem,
		},
		{
			name: "unsupported sector size",
			disk: func(t *testing.T) *fattest.Disk {
				return format(t, fattest.Layout{FATType: 16, BytesPerSector: 1024}).Disk
			},
			wantErr: fat.ErrNoFilesystem,
		},
		{
			name: "empty partition slot",
			disk: func(t *testing.T) *fattest.Disk {
				return format(t, fattest.Layout{FATType: 16, PartitionStart: 63}).Disk
			},
			opts:    []fat.MountOption{fat.WithPartition(2)},
			wantErr: fat.ErrNoFilesystem,
		},
		{
			name: "logical drive without filesystem",
			disk: func(t *testing.T) *fattest.Disk {
				return format(t, fattest.Layout{FATType: 16, PartitionStart: 100, Logical: true}).Disk
			},
			opts:    []fat.MountOption{fat.WithPartition(5)},
			wantErr: fat.ErrNoFilesystem,
		},
		{
			name: "logical drive beyond the chain",
			disk: func(t *testing.T) *fattest.Disk {
				return format(t, fattest.Layout{FATType: 16, PartitionStart: 100, Logical: true}).Disk
			},
			opts:    []fat.MountOption{fat.WithPartition(7)},
			wantErr: fat.ErrNoFilesystem,
		},
		{
			name: "logical drive without extended partition",
			disk: func(t *testing.T) *fattest.Disk {
				return format(t, fattest.Layout{FATType: 16, PartitionStart: 63}).Disk
			},
			opts:    []fat.MountOption{fat.WithPartition(5)},
			wantErr: fat.ErrNoFilesystem,
		},
		{
			name: "unreadable first sector",
			disk: func(t *testing.T) *fattest.Disk {
				d := format(t, fattest.Layout{FATType: 12}).Disk
				d.FailReads(0)
				return d
			},
			wantErr: fat.ErrIO,
		},
		{
			name: "negative partition",
			disk: func(t *testing.T) *fattest.Disk {
				return format(t, fattest.Layout{FATType: 12}).Disk
			},
			opts:    []fat.MountOption{fat.WithPartition(-1)},
			wantErr: fat.ErrInvalidDrive,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := fat.Mount(tt.disk(t), tt.opts...)
			assert.Nil(t, v)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Mount() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMount_NilDevice(t *testing.T) {
	_, err := fat.Mount(nil)
	assert.True(t, errors.Is(err, fat.ErrInvalidDrive))
}

// initDisk is a disk which needs to be initialized.
type initDisk struct {
	*fattest.Disk
	*fat.MockInitializer
}

func TestMount_Initialize(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	img := format(t, fattest.Layout{FATType: 12})

	dev := initDisk{Disk: img.Disk, MockInitializer: fat.NewMockInitializer(ctrl)}
	gomock.InOrder(
		dev.MockInitializer.EXPECT().Initialize().Return(errDevice),
		dev.MockInitializer.EXPECT().Initialize().Return(nil),
	)

	_, err := fat.Mount(dev)
	assert.True(t, errors.Is(err, fat.ErrNotReady))
	assert.True(t, errors.Is(err, errDevice))
	assert.Empty(t, img.Disk.Reads(), "no sector may be read from an uninitialized device")

	_, err = fat.Mount(dev)
	assert.NoError(t, err)
}

// protectedDisk is a disk with a write protection switch.
type protectedDisk struct {
	*fattest.Disk
	*fat.MockWriteProtector
}

func TestMount_ReadOnly(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	img := format(t, fattest.Layout{FATType: 16})

	dev := protectedDisk{Disk: img.Disk, MockWriteProtector: fat.NewMockWriteProtector(ctrl)}
	dev.MockWriteProtector.EXPECT().WriteProtected().Return(true)

	v, err := fat.Mount(dev)
	require.NoError(t, err)
	assert.True(t, v.ReadOnly())

	v, err = fat.Mount(img.Disk, fat.WithReadOnly())
	require.NoError(t, err)
	assert.True(t, v.ReadOnly())
}

func TestMount_FSInfo(t *testing.T) {
	img := format(t, fattest.Layout{FATType: 32})
	_, err := img.AddFile(0, "A.BIN", make([]byte, 3000))
	require.NoError(t, err)

	v, err := fat.Mount(img.Disk)
	require.NoError(t, err)
	assert.Equal(t, img.FreeClusters(), v.FreeClusters())

	img = format(t, fattest.Layout{FATType: 32, NoFSInfo: true})
	v, err = fat.Mount(img.Disk)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xFFFFFFFF), v.FreeClusters())
}

func TestMount_SharedWindow(t *testing.T) {
	first := format(t, fattest.Layout{FATType: 12, Label: "FIRST"})
	second := format(t, fattest.Layout{FATType: 16, Label: "SECOND"})
	_, err := first.AddFile(0, "ONE.TXT", []byte("one"))
	require.NoError(t, err)
	_, err = second.AddFile(0, "TWO.TXT", []byte("two"))
	require.NoError(t, err)

	w := fat.NewWindow()
	a, err := fat.Mount(first.Disk, fat.WithWindow(w))
	require.NoError(t, err)
	b, err := fat.Mount(second.Disk, fat.WithWindow(w))
	require.NoError(t, err)

	assert.Equal(t, []string{"ONE.TXT"}, names(t, a.OpenRoot()))
	assert.Equal(t, []string{"TWO.TXT"}, names(t, b.OpenRoot()))
	assert.Equal(t, []string{"ONE.TXT"}, names(t, a.OpenRoot()))
}

// syncDisk is a disk buffering writes.
type syncDisk struct {
	*fattest.Disk
	*fat.MockSyncer
}

func TestVolume_Sync(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	img := format(t, fattest.Layout{FATType: 16})
	dev := syncDisk{Disk: img.Disk, MockSyncer: fat.NewMockSyncer(ctrl)}
	gomock.InOrder(
		dev.MockSyncer.EXPECT().Sync().Return(nil),
		dev.MockSyncer.EXPECT().Sync().Return(errDevice),
	)

	v, err := fat.Mount(dev)
	require.NoError(t, err)

	assert.NoError(t, v.Sync())
	err = v.Sync()
	assert.True(t, errors.Is(err, fat.ErrIO))
	assert.True(t, errors.Is(err, errDevice))
}

func TestType_String(t *testing.T) {
	assert.Equal(t, "FAT12", fat.FAT12.String())
	assert.Equal(t, "FAT16", fat.FAT16.String())
	assert.Equal(t, "FAT32", fat.FAT32.String())
	assert.Equal(t, "unknown", fat.Type(0).String())
}
