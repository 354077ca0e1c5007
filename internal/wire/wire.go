// Package wire implements the binary framing spoken between a follower
// invocation and the leader: big-endian int32 integers and length-prefixed
// UTF-8 strings. A request is an argv frame; a result is an exit code plus
// an optional output string (zero length means no output). The forwarded
// stdin bytes that follow a request are raw and never pass through this
// package.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameBytes bounds any single length prefix so a malformed or hostile
// peer cannot force an arbitrary allocation.
const MaxFrameBytes = 64 << 20

// MaxArgs bounds the argv count in a request frame.
const MaxArgs = 1 << 16

// ErrMalformedFrame reports a negative or out-of-bounds length prefix.
var ErrMalformedFrame = fmt.Errorf("wire: malformed frame")

// ReadExact reads exactly n bytes from r, failing with io.ErrUnexpectedEOF
// when the stream ends short.
func ReadExact(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF && n > 0 {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

// ReadInt32 reads a big-endian 32-bit integer.
func ReadInt32(r io.Reader) (int32, error) {
	buf, err := ReadExact(r, 4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(buf)), nil
}

// WriteInt32 writes v as a big-endian 32-bit integer.
func WriteInt32(w io.Writer, v int32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	_, err := w.Write(buf[:])
	return err
}

// ReadString reads a length-prefixed UTF-8 string.
func ReadString(r io.Reader) (string, error) {
	n, err := ReadInt32(r)
	if err != nil {
		return "", err
	}
	if n < 0 || n > MaxFrameBytes {
		return "", fmt.Errorf("%w: string length %d", ErrMalformedFrame, n)
	}
	if n == 0 {
		return "", nil
	}
	buf, err := ReadExact(r, int(n))
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// WriteString writes s with a length prefix.
func WriteString(w io.Writer, s string) error {
	if err := WriteInt32(w, int32(len(s))); err != nil {
		return err
	}
	if len(s) == 0 {
		return nil
	}
	_, err := io.WriteString(w, s)
	return err
}

// ReadOptionalString reads a length-prefixed string where both a zero
// length and any read failure mean "no output". It is used on the result
// path where the peer may legitimately have closed early.
func ReadOptionalString(r io.Reader) (string, bool) {
	s, err := ReadString(r)
	if err != nil || s == "" {
		return "", false
	}
	return s, true
}

// ReadRequest reads an argv frame: count followed by count length-prefixed
// strings. A zero count is valid and yields an empty, non-nil slice.
func ReadRequest(r io.Reader) ([]string, error) {
	n, err := ReadInt32(r)
	if err != nil {
		return nil, err
	}
	if n < 0 || n > MaxArgs {
		return nil, fmt.Errorf("%w: argc %d", ErrMalformedFrame, n)
	}
	argv := make([]string, 0, n)
	for i := int32(0); i < n; i++ {
		arg, err := ReadString(r)
		if err != nil {
			return nil, fmt.Errorf("wire: argv[%d]: %w", i, err)
		}
		argv = append(argv, arg)
	}
	return argv, nil
}

// WriteRequest writes an argv frame.
func WriteRequest(w io.Writer, argv []string) error {
	if err := WriteInt32(w, int32(len(argv))); err != nil {
		return err
	}
	for _, arg := range argv {
		if err := WriteString(w, arg); err != nil {
			return err
		}
	}
	return nil
}

// ReadResult reads an exit code and optional output string.
func ReadResult(r io.Reader) (int32, string, error) {
	code, err := ReadInt32(r)
	if err != nil {
		return 0, "", err
	}
	output, _ := ReadOptionalString(r)
	return code, output, nil
}

// WriteResult writes an exit code and optional output string.
func WriteResult(w io.Writer, code int32, output string) error {
	if err := WriteInt32(w, code); err != nil {
		return err
	}
	return WriteString(w, output)
}
