// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package storage

import (
	"fmt"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/docqa/core"
)

// passageSer is the mus-go serializer for core.Passage.
// Field order: id, content, source, metadata, vector, inserted_at (unix micros).
// A zero InsertedAt is stored as 0 and decoded back to the zero time.
type passageSer struct{}

// PassageMUS serializes passages in the mus format.
var PassageMUS = passageSer{}

func (passageSer) Marshal(p core.Passage, bs []byte) (n int) {
	n = varint.Uint64.Marshal(uint64(p.Id), bs)
	n += ord.String.Marshal(p.Content, bs[n:])
	n += ord.String.Marshal(p.Source, bs[n:])

	n += varint.Int.Marshal(len(p.Metadata), bs[n:])
	for _, k := range sortedKeys(p.Metadata) {
		n += ord.String.Marshal(k, bs[n:])
		n += ord.String.Marshal(p.Metadata[k], bs[n:])
	}

	n += varint.Int.Marshal(len(p.Vector), bs[n:])
	for _, f := range p.Vector {
		n += raw.Float32.Marshal(f, bs[n:])
	}

	n += varint.Int64.Marshal(unixMicro(p.InsertedAt), bs[n:])
	return n
}

func (passageSer) Unmarshal(bs []byte) (p core.Passage, n int, err error) {
	id, m, err := varint.Uint64.Unmarshal(bs)
	n += m
	if err != nil {
		return
	}
	p.Id = core.ID(id)

	if p.Content, m, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += m
	if p.Source, m, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += m

	count, m, err := varint.Int.Unmarshal(bs[n:])
	if err != nil {
		return
	}
	n += m
	if count < 0 || count > len(bs)-n {
		err = ErrTruncatedData
		return
	}
	if count > 0 {
		p.Metadata = make(map[string]string, count)
		for i := 0; i < count; i++ {
			var k, v string
			if k, m, err = ord.String.Unmarshal(bs[n:]); err != nil {
				return
			}
			n += m
			if v, m, err = ord.String.Unmarshal(bs[n:]); err != nil {
				return
			}
			n += m
			p.Metadata[k] = v
		}
	}

	count, m, err = varint.Int.Unmarshal(bs[n:])
	if err != nil {
		return
	}
	n += m
	if count < 0 || count*4 > len(bs)-n {
		err = ErrTruncatedData
		return
	}
	if count > 0 {
		p.Vector = make([]float32, count)
		for i := range p.Vector {
			if p.Vector[i], m, err = raw.Float32.Unmarshal(bs[n:]); err != nil {
				return
			}
			n += m
		}
	}

	micros, m, err := varint.Int64.Unmarshal(bs[n:])
	if err != nil {
		return
	}
	n += m
	if micros != 0 {
		p.InsertedAt = time.UnixMicro(micros).UTC()
	}
	return
}

func (passageSer) Size(p core.Passage) (size int) {
	size = varint.Uint64.Size(uint64(p.Id))
	size += ord.String.Size(p.Content)
	size += ord.String.Size(p.Source)
	size += varint.Int.Size(len(p.Metadata))
	for k, v := range p.Metadata {
		size += ord.String.Size(k) + ord.String.Size(v)
	}
	size += varint.Int.Size(len(p.Vector))
	for _, f := range p.Vector {
		size += raw.Float32.Size(f)
	}
	return size + varint.Int64.Size(unixMicro(p.InsertedAt))
}

func unixMicro(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

// MarshalID serializes an ID to bytes.
func MarshalID(id core.ID) []byte {
	buf := make([]byte, varint.Uint64.Size(uint64(id)))
	varint.Uint64.Marshal(uint64(id), buf)
	return buf
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	id, _, err := varint.Uint64.Unmarshal(data)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return core.ID(id), nil
}

// MarshalPassage serializes a Passage to bytes.
func MarshalPassage(p *core.Passage) []byte {
	buf := make([]byte, PassageMUS.Size(*p))
	PassageMUS.Marshal(*p, buf)
	return buf
}

// UnmarshalPassage deserializes a Passage from bytes.
func UnmarshalPassage(data []byte) (*core.Passage, error) {
	p, _, err := PassageMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &p, nil
}
