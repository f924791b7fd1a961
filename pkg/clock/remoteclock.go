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
	"fmt"
	"time"

	"github.com/livekit/mediatransportutil"
)

// RemoteClock correlates a remote stream's RTP timebase with its wall clock
// using the most recent RTCP sender report. Conversions assume the remote
// media clock runs at the stream's nominal clock rate between reports.
type RemoteClock struct {
	ntp       mediatransportutil.NtpTime
	rtp       uint32
	clockRate uint32
}

func NewRemoteClock(ntp mediatransportutil.NtpTime, rtp uint32, clockRate uint32) *RemoteClock {
	return &RemoteClock{
		ntp:       ntp,
		rtp:       rtp,
		clockRate: clockRate,
	}
}

// RTPToWallclock converts an RTP timestamp to wall-clock time. Undefined
// without a clock rate.
func (c *RemoteClock) RTPToWallclock(rtpTimestamp uint32) (time.Time, bool) {
	if c.clockRate == 0 {
		return time.Time{}, false
	}

	// signed difference handles 32-bit timestamp wrap
	diff := int32(rtpTimestamp - c.rtp)
	offset := time.Duration(diff) * time.Second / time.Duration(c.clockRate)
	return c.ntp.Time().Add(offset), true
}

// WallclockToRTP converts wall-clock time to this stream's RTP timebase.
// Undefined without a clock rate.
func (c *RemoteClock) WallclockToRTP(at time.Time) (uint32, bool) {
	if c.clockRate == 0 {
		return 0, false
	}

	elapsed := at.Sub(c.ntp.Time())
	// round to the nearest tick, NTP times carry sub-nanosecond error
	ticks := (int64(elapsed)*int64(c.clockRate) + int64(time.Second)/2) / int64(time.Second)
	return c.rtp + uint32(int32(ticks)), true
}

func (c *RemoteClock) String() string {
	return fmt.Sprintf("RemoteClock{ntp: %s, rtp: %d, rate: %d}", c.ntp.Time(), c.rtp, c.clockRate)
}
