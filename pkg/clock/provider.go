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
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/livekit/mediatransportutil"
	"github.com/livekit/protocol/logger"
	"github.com/pion/rtcp"
)

const defaultClockCacheSize = 256

// Provider maintains the newest wall-clock correlation point per SSRC from
// incoming RTCP sender reports. Clocks for idle SSRCs age out of the bounded
// cache, after which resolution reports them as unavailable.
type Provider struct {
	logger logger.Logger

	mu         sync.RWMutex
	clockRates map[uint32]uint32

	clocks *lru.Cache[uint32, *RemoteClock]
}

func NewProvider(cacheSize int, l logger.Logger) (*Provider, error) {
	if cacheSize <= 0 {
		cacheSize = defaultClockCacheSize
	}
	if l == nil {
		l = logger.GetLogger()
	}

	clocks, err := lru.New[uint32, *RemoteClock](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Provider{
		logger:     l,
		clockRates: make(map[uint32]uint32),
		clocks:     clocks,
	}, nil
}

// SetClockRate registers the nominal RTP clock rate of an SSRC. Sender
// reports for SSRCs without a known clock rate still produce a clock, but
// its conversions are undefined until the rate is known.
func (p *Provider) SetClockRate(ssrc uint32, clockRate uint32) {
	p.mu.Lock()
	p.clockRates[ssrc] = clockRate
	p.mu.Unlock()

	// refresh an already cached clock with the rate
	if existing, ok := p.clocks.Get(ssrc); ok && existing.clockRate != clockRate {
		p.clocks.Add(ssrc, NewRemoteClock(existing.ntp, existing.rtp, clockRate))
	}
}

// HandleSenderReport ingests an RTCP sender report, replacing the SSRC's
// correlation point.
func (p *Provider) HandleSenderReport(sr *rtcp.SenderReport) {
	p.mu.RLock()
	clockRate := p.clockRates[sr.SSRC]
	p.mu.RUnlock()

	p.clocks.Add(sr.SSRC, NewRemoteClock(
		mediatransportutil.NtpTime(sr.NTPTime),
		sr.RTPTime,
		clockRate,
	))
}

// ResolveClocks returns the known clocks of the requested SSRCs. SSRCs
// without correlation data are absent from the result.
func (p *Provider) ResolveClocks(ssrcs ...uint32) map[uint32]*RemoteClock {
	clocks := make(map[uint32]*RemoteClock, len(ssrcs))
	for _, ssrc := range ssrcs {
		if c, ok := p.clocks.Get(ssrc); ok {
			clocks[ssrc] = c
		}
	}
	return clocks
}
