package wire

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Payload bodies are msgpack arrays: a count prefix followed by
// length-prefixed strings (names) or binary strings (contents). Decoding
// never constructs anything but those two shapes, and the array must span
// the whole body.

// EncodeNames encodes the ordered file names of a batch.
func EncodeNames(names []string) ([]byte, error) {
	if names == nil {
		names = []string{}
	}
	return msgpack.Marshal(names)
}

// DecodeNames decodes a names payload.
func DecodeNames(body []byte) ([]string, error) {
	var names []string
	if err := decodeExact(body, &names, "names"); err != nil {
		return nil, err
	}
	return names, nil
}

// EncodeContents encodes the ordered file contents of a batch.
func EncodeContents(contents [][]byte) ([]byte, error) {
	if contents == nil {
		contents = [][]byte{}
	}
	return msgpack.Marshal(contents)
}

// DecodeContents decodes a data payload.
func DecodeContents(body []byte) ([][]byte, error) {
	var contents [][]byte
	if err := decodeExact(body, &contents, "data"); err != nil {
		return nil, err
	}
	return contents, nil
}

// decodeExact decodes one msgpack value from body into v. Bytes left over
// after the value are an error.
func decodeExact(body []byte, v any, kind string) error {
	r := bytes.NewReader(body)
	if err := msgpack.NewDecoder(r).Decode(v); err != nil {
		return &FrameError{
			Kind: FrameErrorDecode,
			Msg:  fmt.Sprintf("failed to decode %s payload", kind),
			Err:  err,
		}
	}
	if r.Len() > 0 {
		return &FrameError{
			Kind: FrameErrorDecode,
			Msg:  fmt.Sprintf("%s payload has %d trailing bytes", kind, r.Len()),
		}
	}
	return nil
}
