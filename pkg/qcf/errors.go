package qcf

import "errors"

var (
	ErrInvalidMagic     = errors.New("qcf: invalid magic")
	ErrUnsupportedMajor = errors.New("qcf: unsupported major version")
	ErrUnsupportedMinor = errors.New("qcf: unsupported section minor version")
	ErrCorruptFile      = errors.New("qcf: corrupt file")
)
