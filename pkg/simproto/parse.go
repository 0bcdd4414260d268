package simproto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrShortPayload = errors.New("simproto: payload shorter than message")

// Generic message decoder. Trailing bytes are ignored.
func DecodeMsg[T any](buf []byte, msgPtr *T) error {
	size := binary.Size(msgPtr)
	if size < 0 {
		return fmt.Errorf("simproto: %T is not a fixed-size message", msgPtr)
	}
	if len(buf) < size {
		return fmt.Errorf("%w: %T needs %d bytes, got %d", ErrShortPayload, msgPtr, size, len(buf))
	}
	return binary.Read(bytes.NewReader(buf[:size]), binary.BigEndian, msgPtr)
}

// Generic message encoder
func EncodeMsg[T any](msgPtr *T) ([]byte, error) {
	var b bytes.Buffer
	if err := binary.Write(&b, binary.BigEndian, msgPtr); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// MustEncodeMsg is EncodeMsg for the fixed-layout messages of this package,
// which cannot fail to encode.
func MustEncodeMsg[T any](msgPtr *T) []byte {
	b, err := EncodeMsg(msgPtr)
	if err != nil {
		panic(err)
	}
	return b
}
