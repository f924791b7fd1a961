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

// Package wav reads a RIFF/WAVE file fully into memory so a producer stream
// can serve its samples without touching the filesystem per read.
package wav

import (
	"encoding/binary"
	"errors"
	"os"

	pkgerrors "github.com/pkg/errors"
)

var (
	ErrNotRIFF        = errors.New("not a RIFF/WAVE file")
	ErrMissingChunk   = errors.New("missing fmt or data chunk")
	ErrTruncatedChunk = errors.New("truncated chunk")
)

// Wave holds a fully decoded wav file.
type Wave struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	BitsPerSample uint16

	// raw sample bytes of the data chunk
	Data []byte
}

// ReadFile loads and parses a wav file.
func ReadFile(path string) (*Wave, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "reading wav file %s", path)
	}
	w, err := Decode(b)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "decoding wav file %s", path)
	}
	return w, nil
}

// Decode parses wav file bytes.
func Decode(b []byte) (*Wave, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, ErrNotRIFF
	}

	w := &Wave{}
	haveFmt := false
	haveData := false

	// chunks are word aligned, odd sizes carry a pad byte
	for off := 12; off+8 <= len(b); {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		off += 8
		if off+size > len(b) {
			return nil, ErrTruncatedChunk
		}
		chunk := b[off : off+size]

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, ErrTruncatedChunk
			}
			w.AudioFormat = binary.LittleEndian.Uint16(chunk[0:2])
			w.NumChannels = binary.LittleEndian.Uint16(chunk[2:4])
			w.SampleRate = binary.LittleEndian.Uint32(chunk[4:8])
			w.BitsPerSample = binary.LittleEndian.Uint16(chunk[14:16])
			haveFmt = true
		case "data":
			w.Data = chunk
			haveData = true
		}

		off += size + (size & 1)
	}

	if !haveFmt || !haveData {
		return nil, ErrMissingChunk
	}
	return w, nil
}

// BytesPerFrame returns the size of one sample frame across all channels.
func (w *Wave) BytesPerFrame() int {
	return int(w.NumChannels) * int(w.BitsPerSample) / 8
}

// Frames slices the sample data into payloads of framesPerPayload sample
// frames. The final payload may be short.
func (w *Wave) Frames(framesPerPayload int) [][]byte {
	frameSize := w.BytesPerFrame()
	if frameSize == 0 || framesPerPayload <= 0 {
		return nil
	}

	payloadSize := frameSize * framesPerPayload
	payloads := make([][]byte, 0, (len(w.Data)+payloadSize-1)/payloadSize)
	for off := 0; off < len(w.Data); off += payloadSize {
		end := off + payloadSize
		if end > len(w.Data) {
			end = len(w.Data)
		}
		payloads = append(payloads, w.Data[off:end])
	}
	return payloads
}
