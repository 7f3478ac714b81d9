package qcf

import (
	"errors"
	"io"
	"os"
	"sort"
	"sync"
)

const (
	writerPadBufSize  = 4096
	writerCopyBufSize = 1 << 20
)

// Writer builds a QCF file in a streaming fashion: it reserves header
// space up front and patches the header and section directory during
// Finalise, so large tensor-data sections never need to be buffered in
// memory.
type Writer struct {
	f        *os.File
	sections []Section
	seen     map[SectionType]struct{}
	open     *SectionWriter
	closed   bool

	flags uint64

	padBuf  []byte
	copyBuf []byte

	mu sync.Mutex
}

// SectionWriter streams one section's payload directly to the
// underlying file. It must be ended (End or Close) before any other
// section can be written.
type SectionWriter struct {
	w       *Writer
	typ     SectionType
	version uint32
	start   int64
	ended   bool
}

// NewWriter creates a Writer targeting f, truncating it and reserving
// space for the header (patched by Finalise).
func NewWriter(f *os.File) (*Writer, error) {
	if f == nil {
		return nil, errors.New("qcf: nil file")
	}
	if err := f.Truncate(0); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	w := &Writer{
		f:       f,
		seen:    make(map[SectionType]struct{}),
		padBuf:  make([]byte, writerPadBufSize),
		copyBuf: make([]byte, writerCopyBufSize),
	}
	if err := w.writeZeros(headerSize); err != nil {
		return nil, err
	}
	if err := w.alignTo(qcfAlign); err != nil {
		return nil, err
	}
	return w, nil
}

// WriteSection buffers data and writes it as one section. A section type
// may be written at most once.
func (w *Writer) WriteSection(typ SectionType, version uint32, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.precheck(typ); err != nil {
		return err
	}
	if err := w.alignTo(qcfAlign); err != nil {
		return err
	}
	offset, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if len(data) > 0 {
		if err := writeFull(w.f, data); err != nil {
			return err
		}
	}
	w.sections = append(w.sections, Section{Type: uint32(typ), Version: version, Offset: uint64(offset), Size: uint64(len(data))})
	w.seen[typ] = struct{}{}
	return nil
}

func (w *Writer) precheck(typ SectionType) error {
	if w.closed {
		return errors.New("qcf: writer already finalised")
	}
	if w.open != nil {
		return errors.New("qcf: section write in progress")
	}
	if _, ok := w.seen[typ]; ok {
		return errors.New("qcf: duplicate section type")
	}
	return nil
}

// AddFlags ORs additional header flags in before Finalise.
func (w *Writer) AddFlags(flags uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("qcf: writer already finalised")
	}
	w.flags |= flags
	return nil
}

// BeginSection starts streaming a section payload directly to the
// underlying file, for large tensor-data sections that should not be
// buffered whole in memory.
func (w *Writer) BeginSection(typ SectionType, version uint32) (*SectionWriter, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.precheck(typ); err != nil {
		return nil, err
	}
	if err := w.alignTo(qcfAlign); err != nil {
		return nil, err
	}
	start, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	sw := &SectionWriter{w: w, typ: typ, version: version, start: start}
	w.open = sw
	w.seen[typ] = struct{}{}
	return sw, nil
}

// CurrentAbsOffset returns the current absolute file offset, useful for
// recording a tensor's DataOffset while streaming the tensor-data
// section.
func (sw *SectionWriter) CurrentAbsOffset() (uint64, error) {
	sw.w.mu.Lock()
	defer sw.w.mu.Unlock()
	if sw.ended || sw.w.open != sw {
		return 0, errors.New("qcf: section writer not active")
	}
	pos, err := sw.w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	return uint64(pos), nil
}

// Align writes zero padding until the file position is aligned to n
// bytes, for aligning individual tensor payloads within the section.
func (sw *SectionWriter) Align(n int) error {
	sw.w.mu.Lock()
	defer sw.w.mu.Unlock()
	if sw.ended || sw.w.open != sw {
		return errors.New("qcf: section writer not active")
	}
	return sw.w.alignTo(int64(n))
}

// Write streams p into the underlying file.
func (sw *SectionWriter) Write(p []byte) (int, error) {
	sw.w.mu.Lock()
	defer sw.w.mu.Unlock()
	if sw.ended || sw.w.open != sw {
		return 0, errors.New("qcf: section writer not active")
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := writeFull(sw.w.f, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// End finalises the section and records it in the directory.
func (sw *SectionWriter) End() error {
	sw.w.mu.Lock()
	defer sw.w.mu.Unlock()
	if sw.ended {
		return errors.New("qcf: section writer already ended")
	}
	if sw.w.open != sw {
		return errors.New("qcf: section writer not active")
	}
	pos, err := sw.w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if pos < sw.start {
		return errors.New("qcf: invalid file position")
	}
	sw.w.sections = append(sw.w.sections, Section{Type: uint32(sw.typ), Version: sw.version, Offset: uint64(sw.start), Size: uint64(pos - sw.start)})
	sw.w.open = nil
	sw.ended = true
	return nil
}

// Close is an alias for End, for use with defer.
func (sw *SectionWriter) Close() error { return sw.End() }

// Finalise writes the section directory and patches the header. The
// writer must not be used again afterward.
func (w *Writer) Finalise() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("qcf: writer already finalised")
	}
	if w.open != nil {
		return errors.New("qcf: section write in progress")
	}
	w.closed = true

	sort.Slice(w.sections, func(i, j int) bool { return w.sections[i].Type < w.sections[j].Type })

	if err := w.alignTo(qcfAlign); err != nil {
		return err
	}
	sectionDirOffset, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	var secBuf [sectionSize]byte
	for i := range w.sections {
		if !encodeSection(secBuf[:], w.sections[i]) {
			return errors.New("qcf: encode section failed")
		}
		if err := writeFull(w.f, secBuf[:]); err != nil {
			return err
		}
	}

	fileSize, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if err := w.f.Truncate(fileSize); err != nil {
		return err
	}

	header := Header{
		Major:            CurrentMajor,
		Minor:            CurrentMinor,
		HeaderSize:       headerSize,
		SectionCount:     uint32(len(w.sections)),
		SectionDirOffset: uint64(sectionDirOffset),
		FileSize:         uint64(fileSize),
		Flags:            w.flags,
	}
	copy(header.Magic[:], MagicQCF)

	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	var hdrBuf [headerSize]byte
	if !encodeHeader(hdrBuf[:], header) {
		return errors.New("qcf: encode header failed")
	}
	if err := writeFull(w.f, hdrBuf[:]); err != nil {
		return err
	}
	return w.f.Sync()
}

func (w *Writer) alignTo(n int64) error {
	if n <= 1 {
		return nil
	}
	pos, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	mod := pos % n
	if mod == 0 {
		return nil
	}
	return w.writeZeros(int(n - mod))
}

func (w *Writer) writeZeros(n int) error {
	if n <= 0 {
		return nil
	}
	buf := w.padBuf
	if len(buf) == 0 {
		buf = make([]byte, 4096)
	}
	for n > 0 {
		toWrite := n
		if toWrite > len(buf) {
			toWrite = len(buf)
		}
		if err := writeFull(w.f, buf[:toWrite]); err != nil {
			return err
		}
		n -= toWrite
	}
	return nil
}

func writeFull(f *os.File, p []byte) error {
	for len(p) > 0 {
		n, err := f.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}
