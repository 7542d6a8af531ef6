package syncclient

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
)

// Id is an arena-style stable identifier. Per the rearchitecture note in spec.md §9, the
// shared-ownership graph of SessionWrapper/Session/Connection is modeled as maps keyed by
// these identifiers rather than as a graph of pointers; cross-references are copies of an Id,
// never a pointer into another arena.
type Id [16]byte

func NewId() Id {
	return Id(ulid.Make())
}

func IdFromBytes(idBytes []byte) (Id, error) {
	if len(idBytes) != 16 {
		return Id{}, errors.New("id must be 16 bytes")
	}
	var id Id
	copy(id[:], idBytes)
	return id, nil
}

func (self Id) Bytes() []byte {
	b := make([]byte, 16)
	copy(b, self[:])
	return b
}

func (self Id) LessThan(other Id) bool {
	return bytes.Compare(self[:], other[:]) < 0
}

func (self Id) String() string {
	return ulid.ULID(self).String()
}

func (self *Id) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('"')
	buf.WriteString(self.String())
	buf.WriteByte('"')
	return buf.Bytes(), nil
}

func (self *Id) UnmarshalJSON(src []byte) error {
	if len(src) < 2 || src[0] != '"' || src[len(src)-1] != '"' {
		return fmt.Errorf("invalid quoted id: %s", src)
	}
	var u ulid.ULID
	if err := u.UnmarshalText(src[1 : len(src)-1]); err != nil {
		return err
	}
	*self = Id(u)
	return nil
}

// ByteCount counts bytes transferred or buffered; signed so that deltas are representable.
type ByteCount = int64

func kib(c ByteCount) ByteCount { return c * 1024 }
func mib(c ByteCount) ByteCount { return c * 1024 * 1024 }
