package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aligator/sdboot/board"
	"github.com/aligator/sdboot/bootinfo"
	"github.com/aligator/sdboot/fat/fattest"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(time.Duration) {}

func cardImage(t *testing.T, fs afero.Fs, path string, data []byte) {
	t.Helper()
	img, err := fattest.Format(fattest.Layout{FATType: 16, PartitionStart: 64})
	require.NoError(t, err)
	if data != nil {
		_, err = img.AddFile(0, "APP.BIN", data)
		require.NoError(t, err)
	}
	require.NoError(t, afero.WriteReader(fs, path, io.NewSectionReader(img.Disk, 0, img.Disk.Size())))
}

func firmware(t *testing.T, b board.Board, version uint16) []byte {
	t.Helper()
	data := make([]byte, b.ImageLength())
	for i := range data {
		data[i] = byte(i * 7)
	}
	_, err := bootinfo.Stamp(data, b.DeviceID, version)
	require.NoError(t, err)
	return data
}

func TestRun(t *testing.T) {
	b, err := board.Lookup("example", "atmega644")
	require.NoError(t, err)
	app := firmware(t, b, 3)

	tests := []struct {
		name    string
		direct  bool
		voltage bool
		kind    string
	}{
		{name: "sdhc", kind: "sdhc"},
		{name: "sdv2 with voltage check", kind: "sdv2", voltage: true},
		{name: "mmc", kind: "MMC"},
		{name: "direct", direct: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			cardImage(t, fs, "card.img", app)
			log, hook := test.NewNullLogger()

			err := run(context.Background(), fs, log, options{
				card:    "card.img",
				flash:   "flash.bin",
				variant: "example",
				chip:    "atmega644",
				kind:    tt.kind,
				direct:  tt.direct,
				voltage: tt.voltage,
				cycles:  1,
			})
			require.NoError(t, err)

			mem, err := afero.ReadFile(fs, "flash.bin")
			require.NoError(t, err)
			require.Len(t, mem, int(b.Chip.FlashSize))
			assert.Equal(t, app, mem[:len(app)])
			assert.Equal(t, bytes.Repeat([]byte{0xFF}, int(b.Chip.BootSize)), mem[len(app):])

			last := hook.LastEntry()
			require.NotNil(t, last)
			assert.Equal(t, "application started", last.Message)
			assert.Equal(t, uint16(3), last.Data["version"])
		})
	}
}

func TestRun_NoUpdate(t *testing.T) {
	fs := afero.NewMemMapFs()
	cardImage(t, fs, "card.img", nil)
	log, _ := test.NewNullLogger()

	err := run(context.Background(), fs, log, options{
		card:    "card.img",
		flash:   "flash.bin",
		variant: "example",
		chip:    "atmega644",
		kind:    "sdhc",
		cycles:  2,
		sleep:   noSleep,
	})
	assert.True(t, errors.Is(err, ErrNotStarted))

	mem, err := afero.ReadFile(fs, "flash.bin")
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 64*1024), mem, "erased flash is written back")
}

func TestRun_DeviceIDOverride(t *testing.T) {
	b, err := board.Lookup("example", "atmega644")
	require.NoError(t, err)
	b = b.WithDeviceID(0x12345678)

	fs := afero.NewMemMapFs()
	cardImage(t, fs, "card.img", firmware(t, b, 1))
	log, _ := test.NewNullLogger()
	o := options{
		card:    "card.img",
		flash:   "flash.bin",
		variant: "example",
		chip:    "atmega644",
		kind:    "sdhc",
		cycles:  1,
		sleep:   noSleep,
	}

	err = run(context.Background(), fs, log, o)
	assert.True(t, errors.Is(err, ErrNotStarted), "foreign image is rejected")

	o.devid = 0x12345678
	assert.NoError(t, run(context.Background(), fs, log, o))
}

func TestRun_Errors(t *testing.T) {
	fs := afero.NewMemMapFs()
	cardImage(t, fs, "card.img", nil)
	require.NoError(t, afero.WriteFile(fs, "small.bin", make([]byte, 100), 0o644))

	base := options{
		card:    "card.img",
		flash:   "flash.bin",
		variant: "example",
		chip:    "atmega644",
		kind:    "sdhc",
		cycles:  1,
	}
	tests := []struct {
		name    string
		modify  func(o *options)
		wantErr error
	}{
		{name: "unknown variant", modify: func(o *options) { o.variant = "none" }, wantErr: board.ErrUnknownVariant},
		{name: "unknown chip", modify: func(o *options) { o.chip = "z80" }, wantErr: board.ErrUnknownChip},
		{name: "unknown kind", modify: func(o *options) { o.kind = "floppy" }},
		{name: "missing card", modify: func(o *options) { o.card = "none.img" }},
		{name: "flash size mismatch", modify: func(o *options) { o.flash = "small.bin" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := base
			tt.modify(&o)
			log, _ := test.NewNullLogger()
			err := run(context.Background(), fs, log, o)
			require.Error(t, err)
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("run() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRun_Canceled(t *testing.T) {
	fs := afero.NewMemMapFs()
	cardImage(t, fs, "card.img", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	log, _ := test.NewNullLogger()
	err := run(ctx, fs, log, options{
		card:    "card.img",
		flash:   "flash.bin",
		variant: "example",
		chip:    "atmega644",
		kind:    "sdhc",
		cycles:  1,
	})
	assert.True(t, errors.Is(err, context.Canceled))
}
