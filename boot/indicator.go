package boot

// Indicator drives the two status signals of a board.
// Generated mock using mockgen:
//
//	mockgen -source=indicator.go -destination=indicator_mock.go -package boot
type Indicator interface {
	// SetOK drives the ok signal. It is on while the loader runs and blinks
	// when the resident application is corrupted.
	SetOK(on bool)
	// SetAttention drives the attention signal. It is on while the card is
	// searched and toggles once per block while flashing.
	SetAttention(on bool)
	// Release returns the signal lines to their reset state before the
	// application starts.
	Release()
}

type nopIndicator struct{}

func (nopIndicator) SetOK(bool)        {}
func (nopIndicator) SetAttention(bool) {}
func (nopIndicator) Release()          {}
