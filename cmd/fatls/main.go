// fatls lists a FAT volume of a card image the way the bootloader sees it and
// marks the root files it would consider as updates.
package main

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aligator/sdboot/blockdev"
	"github.com/aligator/sdboot/board"
	"github.com/aligator/sdboot/bootinfo"
	"github.com/aligator/sdboot/fat"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// check describes how the bootloader would treat a root file of the image
// length.
func check(vfs afero.Fs, name string, b board.Board) string {
	image, err := afero.ReadFile(vfs, name)
	if err != nil {
		return fmt.Sprintf("unreadable: %v", err)
	}
	if !bootinfo.Valid(image) {
		return "rejected: checksum mismatch"
	}
	footer, err := bootinfo.Parse(image)
	if err != nil {
		return fmt.Sprintf("rejected: %v", err)
	}
	if footer.DeviceID != b.DeviceID {
		return fmt.Sprintf("rejected: %s, board 0x%08x", footer, b.DeviceID)
	}
	return fmt.Sprintf("candidate: %s", footer)
}

func list(fs afero.Fs, out io.Writer, log logrus.FieldLogger, image string, partition int, b board.Board) error {
	dev, err := blockdev.Open(fs, image, true)
	if err != nil {
		return err
	}
	defer dev.Close()

	v, err := fat.Mount(dev, fat.WithPartition(partition), fat.WithReadOnly())
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"boot_sector":         v.BootSector(),
		"sectors_per_cluster": v.SectorsPerCluster(),
		"max_cluster":         v.MaxCluster(),
	}).Debug("mounted")

	fmt.Fprintf(out, "Opened volume '%v' with type %v\n\n", v.Label(), v.Type())

	vfs := fat.NewFs(v)
	return afero.Walk(vfs, "/", func(name string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if name == "/" {
			return nil
		}
		if info.IsDir() {
			fmt.Fprintf(out, "%-24s %10s  %s\n", name+"/", "<DIR>", info.ModTime().Format("2006-01-02 15:04:05"))
			return nil
		}

		line := fmt.Sprintf("%-24s %10d  %s", name, info.Size(), info.ModTime().Format("2006-01-02 15:04:05"))
		if path.Dir(name) == "/" && info.Size() == int64(b.ImageLength()) {
			line += "  " + check(vfs, name, b)
		}
		fmt.Fprintln(out, line)
		return nil
	})
}

func newRootCmd(fs afero.Fs, out io.Writer) *cobra.Command {
	var (
		variant   string
		chip      string
		partition int
		verbose   bool
	)

	cmd := &cobra.Command{
		Use:   "fatls <image>",
		Short: "List a FAT volume and the update candidates on it",
		Long: `fatls mounts the FAT volume of a card image read-only and lists every
file. Root files exactly as long as an application image of the selected
board are checked like the bootloader checks them.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.New()
			log.SetOutput(cmd.ErrOrStderr())
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}

			b, err := board.Lookup(variant, chip)
			if err != nil {
				return err
			}
			return list(fs, out, log, args[0], partition, b)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&variant, "variant", "example", "hardware variant ("+strings.Join(board.Variants(), ", ")+")")
	flags.StringVar(&chip, "chip", "atmega644", "chip ("+strings.Join(board.Chips(), ", ")+")")
	flags.IntVar(&partition, "partition", 0, "partition to mount, 0 for auto")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log volume details")
	return cmd
}

func main() {
	if err := newRootCmd(afero.NewOsFs(), os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}
