package fat_test

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/aligator/sdboot/fat"
	"github.com/aligator/sdboot/fat/fattest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// names lists the short names of all remaining entries of dir.
func names(t *testing.T, dir *fat.Dir) []string {
	t.Helper()
	var result []string
	for {
		entry, err := dir.Next()
		if err == io.EOF {
			return result
		}
		require.NoError(t, err)
		result = append(result, entry.ShortName())
	}
}

// find returns the entry called name of dir.
func find(t *testing.T, dir *fat.Dir, name string) fat.Entry {
	t.Helper()
	for {
		entry, err := dir.Next()
		require.NoError(t, err, "%s not found", name)
		if entry.ShortName() == name {
			return entry
		}
	}
}

func TestDir_Next(t *testing.T) {
	for _, fatType := range []int{12, 16, 32} {
		t.Run(fmt.Sprintf("FAT%d", fatType), func(t *testing.T) {
			img := format(t, fattest.Layout{FATType: fatType})

			_, err := img.AddFile(0, "HELLO.TXT", []byte("hello"))
			require.NoError(t, err)
			require.NoError(t, img.AddEntry(0, fattest.RawEntry(fattest.ShortName("VOLUME"), fat.AttrVolume, 0, 0)))
			deleted := fattest.RawEntry(fattest.ShortName("GONE.TXT"), fat.AttrArchive, 0, 0)
			deleted[0] = 0xE5
			require.NoError(t, img.AddEntry(0, deleted))
			_, err = img.AddDir(0, "SUB")
			require.NoError(t, err)
			require.NoError(t, img.AddEntry(0, fattest.RawEntry([11]byte{'L', 0, 'o', 0, 'n', 0, 'g', 0, 0, 0, 0}, 0x0F, 0, 0)))
			_, err = img.AddFile(0, "A.BIN", nil)
			require.NoError(t, err)

			v, err := fat.Mount(img.Disk)
			require.NoError(t, err)

			assert.Equal(t, []string{"HELLO.TXT", "SUB", "A.BIN"}, names(t, v.OpenRoot()))
		})
	}
}

func TestDir_Next_Entry(t *testing.T) {
	img := format(t, fattest.Layout{FATType: 16})
	cluster, err := img.AddFile(0, "KERNEL.IMG", make([]byte, 1500))
	require.NoError(t, err)

	v, err := fat.Mount(img.Disk)
	require.NoError(t, err)

	entry := find(t, v.OpenRoot(), "KERNEL.IMG")
	assert.Equal(t, cluster, entry.Cluster)
	assert.Equal(t, uint32(1500), entry.Size)
	assert.Equal(t, byte(fat.AttrArchive), entry.Attr)
	assert.False(t, entry.IsDir())
	assert.Equal(t, fattest.Timestamp, entry.ModTime())
}

func TestDir_Next_RootAcrossSectors(t *testing.T) {
	for _, fatType := range []int{12, 32} {
		img := format(t, fattest.Layout{FATType: fatType})
		var want []string
		for i := 0; i < 40; i++ {
			name := fmt.Sprintf("FILE%02d.TXT", i)
			want = append(want, name)
			_, err := img.AddFile(0, name, nil)
			require.NoError(t, err)
		}

		v, err := fat.Mount(img.Disk)
		require.NoError(t, err)
		assert.Equal(t, want, names(t, v.OpenRoot()), "FAT%d", fatType)
	}
}

func TestDir_Next_FragmentedDirectory(t *testing.T) {
	img := format(t, fattest.Layout{FATType: 16})
	sub, err := img.AddDir(0, "SUB")
	require.NoError(t, err)

	want := []string{".", ".."}
	for i := 0; i < 20; i++ {
		name := fmt.Sprintf("F%02d.BIN", i)
		want = append(want, name)
		// Each file takes a cluster, the directory grows behind them.
		_, err := img.AddFile(sub, name, []byte{byte(i)})
		require.NoError(t, err)
	}

	v, err := fat.Mount(img.Disk)
	require.NoError(t, err)

	entry := find(t, v.OpenRoot(), "SUB")
	require.True(t, entry.IsDir())
	assert.Equal(t, sub, entry.Cluster)
	assert.Equal(t, want, names(t, v.OpenDir(entry.Cluster)))
}

func TestDir_Next_DotDotToRoot(t *testing.T) {
	img := format(t, fattest.Layout{FATType: 32})
	_, err := img.AddDir(0, "SUB")
	require.NoError(t, err)
	_, err = img.AddFile(0, "TOP.TXT", nil)
	require.NoError(t, err)

	v, err := fat.Mount(img.Disk)
	require.NoError(t, err)

	sub := find(t, v.OpenRoot(), "SUB")
	dotdot := find(t, v.OpenDir(sub.Cluster), "..")
	assert.Zero(t, dotdot.Cluster)
	assert.Equal(t, []string{"SUB", "TOP.TXT"}, names(t, v.OpenDir(dotdot.Cluster)))
}

func TestDir_Next_ReadError(t *testing.T) {
	img := format(t, fattest.Layout{FATType: 12})
	_, err := img.AddFile(0, "A.TXT", nil)
	require.NoError(t, err)

	v, err := fat.Mount(img.Disk)
	require.NoError(t, err)

	img.Disk.FailReads(img.RootSector)
	_, err = v.OpenRoot().Next()
	assert.True(t, errors.Is(err, fat.ErrIO))
}

func TestDir_Next_ZeroValue(t *testing.T) {
	var d fat.Dir
	_, err := d.Next()
	assert.True(t, errors.Is(err, fat.ErrInvalidObject))
}
