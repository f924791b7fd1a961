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

package rtputil

// WrapAround unwraps a 16-bit wire counter into a 32-bit extended counter
// that is monotonic across wraparound. Out-of-order values within half the
// wrap period are disambiguated into the cycle they belong to.
type WrapAround struct {
	initialized bool
	highest     uint16
	cycles      uint32
}

func NewWrapAround() *WrapAround {
	return &WrapAround{}
}

// Update returns the extended value of val. Reports false for a late value
// from before a wrap that predates the tracker, such values would have to
// extend below zero and the tracker state is left untouched.
func (w *WrapAround) Update(val uint16) (uint32, bool) {
	if !w.initialized {
		w.initialized = true
		w.highest = val
		return uint32(val), true
	}

	gap := val - w.highest
	if gap < (1 << 15) {
		// in order (gap == 0 is a duplicate of the highest)
		if val < w.highest {
			w.cycles++
		}
		w.highest = val
		return w.cycles<<16 | uint32(val), true
	}

	// out-of-order, belongs to the current cycle unless it is from before
	// the most recent wrap
	cycles := w.cycles
	if val > w.highest {
		if cycles == 0 {
			// older than anything representable
			return uint32(val), false
		}
		cycles--
	}
	return cycles<<16 | uint32(val), true
}

// Highest returns the highest in-order value seen so far.
func (w *WrapAround) Highest() uint16 {
	return w.highest
}

// ExtendedHighest returns the extended value of the highest in-order value.
func (w *WrapAround) ExtendedHighest() uint32 {
	return w.cycles<<16 | uint32(w.highest)
}

// Cycles returns the number of completed 16-bit wraps.
func (w *WrapAround) Cycles() uint32 {
	return w.cycles
}

// Seed initializes the tracker from externally maintained cycle state.
func (w *WrapAround) Seed(highest uint16, cycles uint32) {
	w.initialized = true
	w.highest = highest
	w.cycles = cycles
}
