// sdboot runs the bootloader on the host. The card is a disk image file
// behind a simulated SD card, the program memory is a flash image file which
// is updated in place.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/aligator/sdboot/blockdev"
	"github.com/aligator/sdboot/board"
	"github.com/aligator/sdboot/boot"
	"github.com/aligator/sdboot/fat"
	"github.com/aligator/sdboot/flash"
	"github.com/aligator/sdboot/sdcard"
	"github.com/aligator/sdboot/sdcard/sdsim"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// ErrNotStarted is returned when no cycle ended with a valid application.
var ErrNotStarted = errors.New("application not started")

type options struct {
	card      string
	flash     string
	variant   string
	chip      string
	devid     uint32
	kind      string
	direct    bool
	voltage   bool
	partition int
	cycles    int
	verbose   bool

	sleep func(time.Duration)
}

var kinds = map[string]sdsim.Kind{
	"sdv1": sdsim.SDv1,
	"sdv2": sdsim.SDv2,
	"sdhc": sdsim.SDHC,
	"mmc":  sdsim.MMC,
}

// ledIndicator logs the status signals.
type ledIndicator struct {
	log       logrus.FieldLogger
	ok        bool
	attention bool
	toggles   int
}

func (l *ledIndicator) SetOK(on bool) {
	if on != l.ok {
		l.log.WithField("ok", on).Debug("led")
	}
	l.ok = on
}

func (l *ledIndicator) SetAttention(on bool) {
	if on != l.attention {
		l.toggles++
	}
	l.attention = on
}

func (l *ledIndicator) Release() {
	l.log.WithField("attention_toggles", l.toggles).Debug("leds released")
	l.ok, l.attention = false, false
}

func openCard(fs afero.Fs, o options, b board.Board) (fat.BlockDevice, func() error, error) {
	if o.direct {
		img, err := blockdev.Open(fs, o.card, true)
		if err != nil {
			return nil, nil, err
		}
		return img, img.Close, nil
	}

	kind, ok := kinds[strings.ToLower(o.kind)]
	if !ok {
		return nil, nil, fmt.Errorf("unknown card kind %q", o.kind)
	}
	f, err := fs.Open(o.card)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		return nil, nil, multierr.Append(err, f.Close())
	}

	sim := sdsim.New(kind, f, info.Size())
	sim.ReadOnly = true
	var opts []sdcard.Option
	if o.voltage {
		opts = append(opts, sdcard.WithSupplyVoltage(b.SupplyVoltage))
	}
	return sdcard.New(sim, opts...), f.Close, nil
}

func loadFlash(fs afero.Fs, path string, chip board.Chip) (*flash.Sim, error) {
	data, err := afero.ReadFile(fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return flash.NewSim(int(chip.FlashSize), int(chip.PageSize)), nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) != int(chip.FlashSize) {
		return nil, fmt.Errorf("flash image %s has %d bytes, %s has %d", path, len(data), chip.Name, chip.FlashSize)
	}
	return flash.LoadSim(data, int(chip.PageSize)), nil
}

func run(ctx context.Context, fs afero.Fs, log *logrus.Logger, o options) (err error) {
	b, err := board.Lookup(o.variant, o.chip)
	if err != nil {
		return err
	}
	if o.devid != 0 {
		b = b.WithDeviceID(o.devid)
	}

	card, closeCard, err := openCard(fs, o, b)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, closeCard())
	}()

	mem, err := loadFlash(fs, o.flash, b.Chip)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, afero.WriteFile(fs, o.flash, mem.Bytes(), 0o644))
	}()

	bootOpts := []boot.Option{boot.WithLogger(log), boot.WithPartition(o.partition)}
	if o.sleep != nil {
		bootOpts = append(bootOpts, boot.WithSleep(o.sleep))
	}
	loader, err := boot.New(card, mem, b, &ledIndicator{log: log}, bootOpts...)
	if err != nil {
		return err
	}

	log.WithField("board", b.String()).Info("booting")
	for i := 0; i < o.cycles; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if loader.Cycle() {
			resident := loader.Resident()
			log.WithFields(logrus.Fields{
				"version":   resident.Version,
				"device_id": fmt.Sprintf("0x%08x", resident.DeviceID),
			}).Info("application started")
			return nil
		}
	}
	return fmt.Errorf("%w after %d cycles", ErrNotStarted, o.cycles)
}

func newRootCmd(fs afero.Fs) *cobra.Command {
	o := options{}

	cmd := &cobra.Command{
		Use:   "sdboot",
		Short: "Run bootloader cycles against a card image and a flash image",
		Long: `sdboot searches the card image for an update exactly like the bootloader
does, programs the flash image if one is accepted and verifies the resident
application. A missing flash image starts out erased. The flash image is
written back after the run.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.New()
			log.SetOutput(cmd.ErrOrStderr())
			log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
			if o.verbose {
				log.SetLevel(logrus.DebugLevel)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return run(ctx, fs, log, o)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&o.card, "card", "", "card image file")
	flags.StringVar(&o.flash, "flash", "flash.bin", "flash image file")
	flags.StringVar(&o.variant, "variant", "example", "hardware variant ("+strings.Join(board.Variants(), ", ")+")")
	flags.StringVar(&o.chip, "chip", "atmega644", "chip ("+strings.Join(board.Chips(), ", ")+")")
	flags.Uint32Var(&o.devid, "devid", 0, "override the device id of the variant")
	flags.StringVar(&o.kind, "kind", "sdhc", "simulated card kind (sdv1, sdv2, sdhc, mmc)")
	flags.BoolVar(&o.direct, "direct", false, "read the image directly instead of through a simulated card")
	flags.BoolVar(&o.voltage, "voltage-check", false, "refuse cards whose voltage window lacks the board supply")
	flags.IntVar(&o.partition, "partition", 0, "partition to search, 0 for auto")
	flags.IntVar(&o.cycles, "cycles", 3, "boot cycles before giving up")
	flags.BoolVarP(&o.verbose, "verbose", "v", false, "log every rejected candidate")
	_ = cmd.MarkFlagRequired("card")
	return cmd
}

func main() {
	if err := newRootCmd(afero.NewOsFs()).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
