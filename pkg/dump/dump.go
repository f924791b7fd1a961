// Copyright 2024 Alianza, Inc.
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

// Package dump reads and writes a minimal RTP packet dump: each record is a
// big-endian uint32 length followed by a marshaled RTP packet.
package dump

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/pion/rtp"
	pkgerrors "github.com/pkg/errors"
)

const maxPacketSize = 1 << 16

var ErrPacketTooLarge = errors.New("dump record exceeds max packet size")

// Reader decodes packets from a dump stream.
type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next returns the next packet, io.EOF at end of stream. Each record gets
// its own buffer, pion's Unmarshal keeps the packet payload aliased to it.
func (d *Reader) Next() (*rtp.Packet, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(d.r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, pkgerrors.Wrap(err, "reading record length")
	}

	size := binary.BigEndian.Uint32(lenBuf[:])
	if size > maxPacketSize {
		return nil, ErrPacketTooLarge
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, pkgerrors.Wrap(err, "reading record")
	}

	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(buf); err != nil {
		return nil, pkgerrors.Wrap(err, "unmarshaling rtp packet")
	}
	return pkt, nil
}

// Writer encodes packets to a dump stream.
type Writer struct {
	w io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (d *Writer) Write(pkt *rtp.Packet) error {
	raw, err := pkt.Marshal()
	if err != nil {
		return pkgerrors.Wrap(err, "marshaling rtp packet")
	}
	if len(raw) > maxPacketSize {
		return ErrPacketTooLarge
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(raw)))
	if _, err = d.w.Write(lenBuf[:]); err != nil {
		return pkgerrors.Wrap(err, "writing record length")
	}
	if _, err = d.w.Write(raw); err != nil {
		return pkgerrors.Wrap(err, "writing record")
	}
	return nil
}
