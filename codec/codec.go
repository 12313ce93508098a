// Package codec implements the binary tag stream stored next to every file.
//
// A stream starts with a single version byte, followed by the tags without any
// count prefix. Each tag is written as
//
//	flag   u8          1 if the group is custom, 0 otherwise
//	group  u8 1, u32 length, bytes   (custom group)
//	       u8 0                      (default group)
//	name   u32 length, bytes
//
// with all integers little-endian and all strings UTF-8. Readers consume tags
// until the stream ends on a tag boundary.
package codec

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
	"unicode/utf8"

	"github.com/mwantia/tbf"
)

// Version is the format version written at the start of every stream.
const Version byte = 1

// MaxStringLength bounds the length of a single group or tag name.
const MaxStringLength = 16 << 20

var (
	ErrMalformed          = errors.New("tbf: malformed tag stream")
	ErrUnsupportedVersion = errors.New("tbf: unsupported tag stream version")
	ErrInvalidUTF8        = errors.New("tbf: tag stream contains invalid utf-8")
)

// Encode writes the version header and every tag, in the order given.
// Nothing is written when a tag is rejected.
func Encode(w io.Writer, tags []tbf.Tag) error {
	if err := Validate(tags); err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	if err := bw.WriteByte(Version); err != nil {
		return err
	}

	for _, tag := range tags {
		if err := encodeTag(bw, tag); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// Marshal returns the encoded stream for the tags.
func Marshal(tags []tbf.Tag) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, tags); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Validate reports whether every tag can be written and read back.
func Validate(tags []tbf.Tag) error {
	for _, tag := range tags {
		if err := validateTag(tag); err != nil {
			return err
		}
	}

	return nil
}

func validateTag(tag tbf.Tag) error {
	for _, s := range []string{tag.Group().Name(), tag.Name()} {
		if len(s) > MaxStringLength {
			return fmt.Errorf("%w: string of %d bytes exceeds limit", ErrMalformed, len(s))
		}
		if !utf8.ValidString(s) {
			return fmt.Errorf("%w: %w: %q", ErrInvalidUTF8, tbf.ErrInvalidTag, s)
		}
	}

	return nil
}

func encodeTag(w *bufio.Writer, tag tbf.Tag) error {
	group := tag.Group()
	if group.IsCustom() {
		if _, err := w.Write([]byte{1, 1}); err != nil {
			return err
		}
		if err := writeString(w, group.Name()); err != nil {
			return err
		}
	} else {
		if _, err := w.Write([]byte{0, 0}); err != nil {
			return err
		}
	}

	return writeString(w, tag.Name())
}

func writeString(w *bufio.Writer, s string) error {
	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(len(s)))
	if _, err := w.Write(length[:]); err != nil {
		return err
	}

	_, err := w.WriteString(s)
	return err
}

// Decoder reads tags one at a time from a stream.
type Decoder struct {
	r       *bufio.Reader
	started bool
	err     error
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next tag, or io.EOF once the stream ended cleanly.
// Any other error is sticky.
func (d *Decoder) Next() (tbf.Tag, error) {
	if d.err != nil {
		return tbf.Tag{}, d.err
	}

	tag, err := d.next()
	if err != nil {
		d.err = err
	}

	return tag, err
}

func (d *Decoder) next() (tbf.Tag, error) {
	if !d.started {
		d.started = true

		version, err := d.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return tbf.Tag{}, fmt.Errorf("%w: missing version header", ErrMalformed)
			}
			return tbf.Tag{}, err
		}
		if version != Version {
			return tbf.Tag{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
		}
	}

	flag, err := d.r.ReadByte()
	if err != nil {
		// Clean end of the stream on a tag boundary
		return tbf.Tag{}, err
	}

	marker, err := d.readByte()
	if err != nil {
		return tbf.Tag{}, err
	}

	var group tbf.Group
	switch {
	case flag == 1 && marker == 1:
		name, err := d.readString()
		if err != nil {
			return tbf.Tag{}, err
		}
		group = tbf.CustomGroup(name)
	case flag == 0 && marker == 0:
		group = tbf.DefaultGroup
	default:
		return tbf.Tag{}, fmt.Errorf("%w: unexpected group header %d/%d", ErrMalformed, flag, marker)
	}

	name, err := d.readString()
	if err != nil {
		return tbf.Tag{}, err
	}

	return tbf.NewTag(group, name), nil
}

// readByte reads a byte inside a tag, where the end of the stream means truncation.
func (d *Decoder) readByte() (byte, error) {
	b, err := d.r.ReadByte()
	if err == io.EOF {
		return 0, fmt.Errorf("%w: truncated tag", ErrMalformed)
	}

	return b, err
}

func (d *Decoder) readString() (string, error) {
	var length [4]byte
	if _, err := io.ReadFull(d.r, length[:]); err != nil {
		return "", truncated(err)
	}

	n := binary.LittleEndian.Uint32(length[:])
	if n > MaxStringLength {
		return "", fmt.Errorf("%w: string length %d exceeds limit", ErrMalformed, n)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return "", truncated(err)
	}

	if !utf8.Valid(buf) {
		return "", ErrInvalidUTF8
	}

	return string(buf), nil
}

func truncated(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return fmt.Errorf("%w: truncated tag", ErrMalformed)
	}

	return err
}

// All iterates over the remaining tags. A decoding failure is yielded once as
// the final element; a clean end of the stream is not reported.
func (d *Decoder) All() iter.Seq2[tbf.Tag, error] {
	return func(yield func(tbf.Tag, error) bool) {
		for {
			tag, err := d.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(tbf.Tag{}, err)
				return
			}
			if !yield(tag, nil) {
				return
			}
		}
	}
}

// Decode reads the whole stream.
func Decode(r io.Reader) ([]tbf.Tag, error) {
	var tags []tbf.Tag
	for tag, err := range NewDecoder(r).All() {
		if err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}

	return tags, nil
}

// Unmarshal decodes a complete stream held in memory.
func Unmarshal(b []byte) ([]tbf.Tag, error) {
	return Decode(bytes.NewReader(b))
}

// IsFormatError reports whether err was caused by the content of a stream rather
// than by the reader underneath it.
func IsFormatError(err error) bool {
	return errors.Is(err, ErrMalformed) || errors.Is(err, ErrUnsupportedVersion) || errors.Is(err, ErrInvalidUTF8)
}
