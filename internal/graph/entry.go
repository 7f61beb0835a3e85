package graph

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// maxEntrySize guards against reading a corrupt length prefix as a huge allocation
const maxEntrySize = 64 << 20

// EdgeFactName is the fact name Kythe uses for plain edges
const EdgeFactName = "/"

// VName identifies a Kythe node
type VName struct {
	Signature string
	Corpus    string
	Root      string
	Path      string
	Language  string
}

// Entry is one Kythe storage entry
type Entry struct {
	Source    VName
	EdgeKind  string
	Target    VName
	FactName  string
	FactValue []byte
}

// IsEdge reports whether the entry describes an edge
func (e *Entry) IsEdge() bool {
	return e.EdgeKind != ""
}

// EntryReader decodes a length-delimited entry stream
type EntryReader struct {
	r *bufio.Reader
}

// NewEntryReader creates an EntryReader over r
func NewEntryReader(r io.Reader) *EntryReader {
	return &EntryReader{r: bufio.NewReader(r)}
}

// Next returns the next entry, or io.EOF at a clean end of stream
func (er *EntryReader) Next() (*Entry, error) {
	size, err := binary.ReadUvarint(er.r)
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read entry length: %w", err)
	}
	if size > maxEntrySize {
		return nil, fmt.Errorf("entry length %d exceeds limit", size)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(er.r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("failed to read entry: %w", err)
	}
	return parseEntry(buf)
}

func parseEntry(b []byte) (*Entry, error) {
	var e Entry
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("invalid entry tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		if typ != protowire.BytesType || num > 5 {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("invalid entry field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, fmt.Errorf("invalid entry field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]

		var err error
		switch num {
		case 1:
			e.Source, err = parseVName(v)
		case 2:
			e.EdgeKind = string(v)
		case 3:
			e.Target, err = parseVName(v)
		case 4:
			e.FactName = string(v)
		case 5:
			e.FactValue = append([]byte(nil), v...)
		}
		if err != nil {
			return nil, err
		}
	}
	return &e, nil
}

func parseVName(b []byte) (VName, error) {
	var v VName
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return v, fmt.Errorf("invalid vname tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return v, fmt.Errorf("invalid vname field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		s, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return v, fmt.Errorf("invalid vname field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case 1:
			v.Signature = string(s)
		case 2:
			v.Corpus = string(s)
		case 3:
			v.Root = string(s)
		case 4:
			v.Path = string(s)
		case 5:
			v.Language = string(s)
		}
	}
	return v, nil
}

// AppendEntry appends the length-delimited encoding of e to b. It is the
// inverse of EntryReader.Next and is used to build fixtures.
func AppendEntry(b []byte, e *Entry) []byte {
	var msg []byte
	msg = appendVNameField(msg, 1, e.Source)
	if e.EdgeKind != "" {
		msg = protowire.AppendTag(msg, 2, protowire.BytesType)
		msg = protowire.AppendString(msg, e.EdgeKind)
		msg = appendVNameField(msg, 3, e.Target)
	}
	msg = protowire.AppendTag(msg, 4, protowire.BytesType)
	msg = protowire.AppendString(msg, e.FactName)
	if len(e.FactValue) > 0 {
		msg = protowire.AppendTag(msg, 5, protowire.BytesType)
		msg = protowire.AppendBytes(msg, e.FactValue)
	}

	b = protowire.AppendVarint(b, uint64(len(msg)))
	return append(b, msg...)
}

func appendVNameField(b []byte, num protowire.Number, v VName) []byte {
	var msg []byte
	for i, s := range []string{v.Signature, v.Corpus, v.Root, v.Path, v.Language} {
		if s == "" {
			continue
		}
		msg = protowire.AppendTag(msg, protowire.Number(i+1), protowire.BytesType)
		msg = protowire.AppendString(msg, s)
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}
