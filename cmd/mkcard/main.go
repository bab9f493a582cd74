// mkcard builds a card image with an MBR, one FAT32 partition and the given
// files in its root directory, ready for sdboot and fatls.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/partition/mbr"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

const (
	mib            = 1024 * 1024
	sectorSize     = 512
	partitionStart = 2048
	// MinSize keeps the volume above the FAT32 cluster count threshold.
	MinSize = 64
)

// ErrExists is returned when the output exists and --force is not set.
var ErrExists = errors.New("output exists")

type options struct {
	out   string
	size  int64
	label string
	force bool
}

// shortName returns the root directory name a file is stored under.
func shortName(file string) (string, error) {
	name := strings.ToUpper(filepath.Base(file))
	base, ext, _ := strings.Cut(name, ".")
	if base == "" || len(base) > 8 || len(ext) > 3 || strings.Contains(ext, ".") {
		return "", fmt.Errorf("%s is no 8.3 name", name)
	}
	return name, nil
}

func build(src afero.Fs, log logrus.FieldLogger, o options, files []string) (err error) {
	if o.size < MinSize {
		return fmt.Errorf("size %d MiB is below %d MiB", o.size, MinSize)
	}

	names := make([]string, len(files))
	for i, file := range files {
		if names[i], err = shortName(file); err != nil {
			return err
		}
	}

	if _, err := os.Stat(o.out); err == nil {
		if !o.force {
			return fmt.Errorf("%w: %s", ErrExists, o.out)
		}
		if err := os.Remove(o.out); err != nil {
			return err
		}
	}

	size := o.size * mib
	d, err := diskfs.Create(o.out, size, diskfs.Raw, diskfs.SectorSizeDefault)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, d.File.Close())
	}()

	table := &mbr.Table{
		LogicalSectorSize:  sectorSize,
		PhysicalSectorSize: sectorSize,
		Partitions: []*mbr.Partition{{
			Type:  mbr.Fat32LBA,
			Start: partitionStart,
			Size:  uint32(size/sectorSize) - partitionStart,
		}},
	}
	if err := d.Partition(table); err != nil {
		return fmt.Errorf("partition %s: %w", o.out, err)
	}

	vfs, err := d.CreateFilesystem(disk.FilesystemSpec{
		Partition:   1,
		FSType:      filesystem.TypeFat32,
		VolumeLabel: o.label,
	})
	if err != nil {
		return fmt.Errorf("format %s: %w", o.out, err)
	}

	for i, file := range files {
		n, err := copyFile(src, vfs, file, "/"+names[i])
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"file": file, "name": names[i], "size": n}).Info("added")
	}
	return nil
}

func copyFile(src afero.Fs, dst filesystem.FileSystem, from, to string) (n int64, err error) {
	in, err := src.Open(from)
	if err != nil {
		return 0, err
	}
	defer func() {
		err = multierr.Append(err, in.Close())
	}()

	out, err := dst.OpenFile(to, os.O_CREATE|os.O_RDWR)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", to, err)
	}
	defer func() {
		err = multierr.Append(err, out.Close())
	}()

	return io.Copy(out, in)
}

func newRootCmd(src afero.Fs) *cobra.Command {
	o := options{}

	cmd := &cobra.Command{
		Use:   "mkcard --out <image> [file...]",
		Short: "Create a FAT32 card image holding update files",
		Long: `mkcard creates a raw disk image with an MBR and a single FAT32 partition
and copies the given files into its root directory. Names are stored upper
case and must fit the 8.3 scheme, since the bootloader only sees short names.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.New()
			log.SetOutput(cmd.ErrOrStderr())
			return build(src, log, o, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&o.out, "out", "o", "", "image file to create")
	flags.Int64Var(&o.size, "size", MinSize, "image size in MiB")
	flags.StringVar(&o.label, "label", "SDBOOT", "volume label")
	flags.BoolVarP(&o.force, "force", "f", false, "overwrite an existing image")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func main() {
	if err := newRootCmd(afero.NewOsFs()).Execute(); err != nil {
		os.Exit(1)
	}
}
