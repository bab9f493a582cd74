package sdcard_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/aligator/sdboot/sdcard"
	"github.com/aligator/sdboot/sdcard/sdsim"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cardSize = 64 * sdcard.BlockSize

func newImage(t *testing.T) afero.File {
	t.Helper()
	f, err := afero.NewMemMapFs().Create("card.img")
	require.NoError(t, err)
	require.NoError(t, f.Truncate(cardSize))
	return f
}

func fastOptions() []sdcard.Option {
	return []sdcard.Option{
		sdcard.WithInitPolls(50),
		sdcard.WithResponsePolls(16),
		sdcard.WithTokenPolls(16),
		sdcard.WithBusyPolls(16),
	}
}

func countCommand(cmds []byte, index byte) int {
	n := 0
	for _, c := range cmds {
		if c == index {
			n++
		}
	}
	return n
}

func TestCommandCRC(t *testing.T) {
	tests := []struct {
		name  string
		index byte
		arg   uint32
		want  byte
	}{
		{name: "go idle", index: sdcard.CmdGoIdleState, arg: 0, want: 0x95},
		{name: "interface condition", index: sdcard.CmdSendIfCond, arg: sdcard.IfCondArgument, want: 0x87},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := sdcard.Frame(tt.index, tt.arg)
			assert.Equal(t, 0x40|tt.index, frame[0])
			assert.Equal(t, tt.want, frame[5])
			assert.Equal(t, tt.want, sdcard.CommandCRC(frame[:5]))
		})
	}
}

func TestCard_Initialize(t *testing.T) {
	tests := []struct {
		name   string
		kind   sdsim.Kind
		wantHC bool
		wantSD bool
	}{
		{name: "SDHC", kind: sdsim.SDHC, wantHC: true, wantSD: true},
		{name: "SDv2", kind: sdsim.SDv2, wantSD: true},
		{name: "SDv1", kind: sdsim.SDv1, wantSD: true},
		{name: "MMC", kind: sdsim.MMC},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := sdsim.New(tt.kind, newImage(t), cardSize)
			card := sdcard.New(sim, fastOptions()...)

			require.NoError(t, card.Initialize())
			assert.True(t, card.Ready())
			assert.Equal(t, tt.wantHC, card.HighCapacity())
			assert.Equal(t, tt.wantSD, card.IsSD())
			assert.True(t, sim.Initialized())
			assert.True(t, sim.Fast(), "transfer clock must be enabled after init")

			cmds := sim.Stats().Commands
			assert.Equal(t, byte(sdcard.CmdGoIdleState), cmds[0])
			assert.Equal(t, 1, countCommand(cmds, sdcard.CmdSetBlockLen))
			if tt.wantSD {
				assert.Equal(t, 1, countCommand(cmds, sdcard.CmdReadOCR))
			} else {
				assert.Zero(t, countCommand(cmds, sdcard.CmdReadOCR))
			}
		})
	}
}

func TestCard_InitializeFailure(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(sim *sdsim.Card)
		opts      []sdcard.Option
		wantCause error
	}{
		{
			name:      "never leaves idle",
			setup:     func(sim *sdsim.Card) { sim.InitPolls = sdsim.Never },
			wantCause: sdcard.ErrExhausted,
		},
		{
			name:      "no card",
			setup:     func(sim *sdsim.Card) { sim.Silent = true },
			wantCause: sdcard.ErrExhausted,
		},
		{
			name:      "voltage mismatch",
			setup:     func(sim *sdsim.Card) { sim.VoltageWindow = 0x00000080 },
			opts:      []sdcard.Option{sdcard.WithSupplyVoltage(1 << 18)},
			wantCause: sdcard.ErrRejected,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := sdsim.New(sdsim.SDv2, newImage(t), cardSize)
			tt.setup(sim)
			card := sdcard.New(sim, append(fastOptions(), tt.opts...)...)

			err := card.Initialize()
			require.Error(t, err)
			assert.True(t, errors.Is(err, sdcard.ErrNotReady))
			assert.True(t, errors.Is(err, tt.wantCause), "got %v", err)
			assert.False(t, card.Ready())
			assert.False(t, sim.Fast())

			buf := make([]byte, sdcard.BlockSize)
			assert.True(t, errors.Is(card.ReadBlock(0, buf), sdcard.ErrNotReady))
			assert.Zero(t, countCommand(sim.Stats().Commands, sdcard.CmdReadSingle))
		})
	}
}

func TestCard_SupplyVoltageAccepted(t *testing.T) {
	sim := sdsim.New(sdsim.SDHC, newImage(t), cardSize)
	card := sdcard.New(sim, append(fastOptions(), sdcard.WithSupplyVoltage(1<<18))...)
	require.NoError(t, card.Initialize())
}

func TestCard_SupplyVoltageUnchecked(t *testing.T) {
	sim := sdsim.New(sdsim.SDHC, newImage(t), cardSize)
	sim.VoltageWindow = 0x00000080
	card := sdcard.New(sim, fastOptions()...)
	require.NoError(t, card.Initialize())
	assert.True(t, card.Ready())
}

func TestCard_Release(t *testing.T) {
	sim := sdsim.New(sdsim.SDHC, newImage(t), cardSize)
	card := sdcard.New(sim, fastOptions()...)
	require.NoError(t, card.Initialize())
	require.True(t, sim.Fast())

	card.Release()
	assert.False(t, sim.Fast(), "bus back on the identification clock")
	assert.False(t, sim.Selected())
	assert.False(t, card.Ready())

	buf := make([]byte, sdcard.BlockSize)
	err := card.ReadBlock(0, buf)
	if !errors.Is(err, sdcard.ErrNotReady) {
		t.Errorf("ReadBlock() error = %v, wantErr %v", err, sdcard.ErrNotReady)
	}
	assert.Empty(t, sim.Stats().Reads)

	require.NoError(t, card.Initialize())
	assert.NoError(t, card.ReadBlock(0, buf))
}

func TestCard_ReadWriteBlock(t *testing.T) {
	for _, kind := range []sdsim.Kind{sdsim.SDHC, sdsim.SDv2, sdsim.MMC} {
		t.Run(kind.String(), func(t *testing.T) {
			img := newImage(t)
			sim := sdsim.New(kind, img, cardSize)
			card := sdcard.New(sim, fastOptions()...)
			require.NoError(t, card.Initialize())

			want := bytes.Repeat([]byte{0xA5, 0x5A, 0x00, 0xFF}, sdcard.BlockSize/4)
			require.NoError(t, card.WriteBlock(7, want))

			raw := make([]byte, sdcard.BlockSize)
			_, err := img.ReadAt(raw, 7*sdcard.BlockSize)
			require.NoError(t, err)
			assert.Equal(t, want, raw)

			got := make([]byte, sdcard.BlockSize)
			require.NoError(t, card.ReadBlock(7, got))
			assert.Equal(t, want, got)

			assert.Equal(t, []uint32{7}, sim.Stats().Writes)
			assert.Equal(t, []uint32{7}, sim.Stats().Reads)
		})
	}
}

func TestCard_ReadBlockErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(sim *sdsim.Card)
		block uint32
		buf   int
		want  error
	}{
		{name: "no start token", setup: func(sim *sdsim.Card) { sim.NoToken = true }, buf: sdcard.BlockSize, want: sdcard.ErrExhausted},
		{name: "data error token", setup: func(sim *sdsim.Card) { sim.FailBlocks = map[uint32]bool{3: true} }, block: 3, buf: sdcard.BlockSize, want: sdcard.ErrExhausted},
		{name: "out of range", setup: func(sim *sdsim.Card) {}, block: 1000, buf: sdcard.BlockSize, want: sdcard.ErrRejected},
		{name: "short buffer", setup: func(sim *sdsim.Card) {}, buf: 100, want: sdcard.ErrBufferSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := sdsim.New(sdsim.SDHC, newImage(t), cardSize)
			card := sdcard.New(sim, fastOptions()...)
			require.NoError(t, card.Initialize())
			tt.setup(sim)

			err := card.ReadBlock(tt.block, make([]byte, tt.buf))
			assert.True(t, errors.Is(err, tt.want), "got %v", err)

			var statusErr *sdcard.StatusError
			if tt.want == sdcard.ErrRejected {
				require.True(t, errors.As(err, &statusErr))
				assert.Equal(t, byte(sdcard.CmdReadSingle), statusErr.Command)
				assert.Equal(t, byte(sdcard.StatusAddressError), statusErr.Status)
			}
		})
	}
}

func TestCard_WriteBlockRefused(t *testing.T) {
	sim := sdsim.New(sdsim.SDv2, newImage(t), cardSize)
	card := sdcard.New(sim, fastOptions()...)
	require.NoError(t, card.Initialize())
	sim.ReadOnly = true

	err := card.WriteBlock(1, make([]byte, sdcard.BlockSize))
	assert.True(t, errors.Is(err, sdcard.ErrWriteFailed), "got %v", err)

	// The card must still be usable afterwards.
	require.NoError(t, card.ReadBlock(1, make([]byte, sdcard.BlockSize)))
}
