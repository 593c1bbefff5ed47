//go:build !linux && !darwin && !windows

package source

// New reports that no event source exists for this platform.
func New() (Source, error) {
	return nil, ErrUnsupported
}
