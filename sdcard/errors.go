package sdcard

import "fmt"

// StatusError carries the status a card answered a command with.
type StatusError struct {
	Command byte
	Status  byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("CMD%d: card status 0x%02x", e.Command, e.Status)
}
