package bootinfo

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

// TagFile stamps the footer onto the file at path, treating it as an image of
// exactly length bytes. A file shorter than length is padded with 0xFF, bytes
// beyond length are left untouched.
func TagFile(fs afero.Fs, path string, length int64, deviceID uint32, version uint16) (footer Footer, err error) {
	if length < Size {
		return Footer{}, fmt.Errorf("length %d: %w", length, ErrTooShort)
	}

	f, err := fs.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return Footer{}, fmt.Errorf("unable to open file %s: %w", path, err)
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()

	image := make([]byte, length)
	for i := range image {
		image[i] = 0xFF
	}

	if _, err := io.ReadFull(f, image); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Footer{}, fmt.Errorf("read %s: %w", path, err)
	}

	footer, err = Stamp(image, deviceID, version)
	if err != nil {
		return Footer{}, err
	}

	if _, err := f.WriteAt(image, 0); err != nil {
		return Footer{}, fmt.Errorf("write %s: %w", path, err)
	}

	return footer, nil
}
