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

package clock

import (
	"github.com/livekit/protocol/logger"

	"github.com/alianza-dev/rtp-relay/pkg/telemetry/prometheus"
)

// Translator converts RTP timestamps between the timebases of two streams by
// going through their wall-clock correlated remote clocks. The two clocks are
// presumed to represent the same wall clock.
type Translator struct {
	logger   logger.Logger
	provider *Provider
}

func NewTranslator(provider *Provider, l logger.Logger) *Translator {
	if l == nil {
		l = logger.GetLogger()
	}
	return &Translator{
		logger:   l,
		provider: provider,
	}
}

// Translate converts timestamp from srcSSRC's timebase into dstSSRC's.
// Returns the input timestamp and false when either clock is unavailable or
// a conversion is undefined.
func (t *Translator) Translate(srcSSRC uint32, dstSSRC uint32, timestamp uint32) (uint32, bool) {
	clocks := t.provider.ResolveClocks(srcSSRC, dstSSRC)

	src, dst := clocks[srcSSRC], clocks[dstSSRC]
	if src == nil || dst == nil {
		prometheus.IncClockMiss()
		t.logger.Debugw("remote wall clock unavailable",
			"srcSSRC", srcSSRC,
			"dstSSRC", dstSSRC,
			"haveSrc", src != nil,
			"haveDst", dst != nil,
		)
		return timestamp, false
	}

	at, ok := src.RTPToWallclock(timestamp)
	if !ok {
		return timestamp, false
	}
	rewritten, ok := dst.WallclockToRTP(at)
	if !ok {
		return timestamp, false
	}
	return rewritten, true
}
