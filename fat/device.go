package fat

// SectorSize is the only sector size supported. Volumes declaring another
// size are refused at mount time.
const SectorSize = 512

// BlockDevice provides fixed size sector access to the medium.
// Generated mock using mockgen:
//
//	mockgen -source=device.go -destination=device_mock.go -package fat
type BlockDevice interface {
	// ReadBlock reads one SectorSize sector into dst.
	ReadBlock(sector uint32, dst []byte) error
	// WriteBlock writes one SectorSize sector from src.
	WriteBlock(sector uint32, src []byte) error
}

// Initializer is implemented by devices that need a bring-up step before the
// first transfer. Mount calls it and reports a failure as ErrNotReady.
type Initializer interface {
	Initialize() error
}

// WriteProtector is implemented by devices that can report write protection.
type WriteProtector interface {
	WriteProtected() bool
}

// Releaser is implemented by devices holding hardware that has to be handed
// back in its reset state once the medium is no longer used.
type Releaser interface {
	Release()
}

// Syncer is implemented by devices buffering writes on their own.
type Syncer interface {
	Sync() error
}
