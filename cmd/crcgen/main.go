// crcgen stamps the boot info footer onto a firmware image, so that the
// bootloader accepts it as an update.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/aligator/sdboot/bootinfo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// parseNumber accepts decimal, 0x hexadecimal and 0 octal numbers.
func parseNumber(name, s string, bitSize int) (uint64, error) {
	n, err := strconv.ParseUint(s, 0, bitSize)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return n, nil
}

func newRootCmd(fs afero.Fs, out io.Writer) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "crcgen <filename> <length> <signature> <version>",
		Short: "Stamp device id, version and CRC onto a firmware image",
		Long: `crcgen pads the image to length bytes with 0xFF and writes the boot info
footer into its last eight bytes: the device signature, the version and a
CRC chosen so that the CRC over the whole image is zero.

Version 0 marks a development build, which is flashed whenever it differs
from the resident application. Numbers may be given in decimal, 0x
hexadecimal or 0 octal notation.`,
		Args:         cobra.ExactArgs(4),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.New()
			log.SetOutput(cmd.ErrOrStderr())
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}

			length, err := parseNumber("length", args[1], 32)
			if err != nil {
				return err
			}
			devid, err := parseNumber("signature", args[2], 32)
			if err != nil {
				return err
			}
			version, err := parseNumber("version", args[3], 16)
			if err != nil {
				return err
			}

			log.WithFields(logrus.Fields{
				"file":   args[0],
				"length": length,
			}).Debug("tagging image")

			footer, err := bootinfo.TagFile(fs, args[0], int64(length), uint32(devid), uint16(version))
			if err != nil {
				return err
			}

			if footer.IsDevelopment() {
				log.Warn("version 0 is a development build")
			}
			_, err = fmt.Fprintf(out, "%s: %s\n", args[0], footer)
			return err
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log details")
	return cmd
}

func main() {
	if err := newRootCmd(afero.NewOsFs(), os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}
