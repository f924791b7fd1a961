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

package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

const relayNamespace = "rtp_relay"

var (
	promPacketRewritten *prometheus.CounterVec
	promClockMiss       prometheus.Counter
	promSessionPersist  *prometheus.CounterVec
)

// Init registers the relay metrics. Counters are nil until Init is called,
// the increment helpers are no-ops before that so library use without
// metrics stays safe.
func Init(nodeID string) {
	constLabels := prometheus.Labels{"node_id": nodeID}

	promPacketRewritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   relayNamespace,
		Subsystem:   "rewriter",
		Name:        "packets",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	promClockMiss = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   relayNamespace,
		Subsystem:   "clock",
		Name:        "correlation_miss",
		ConstLabels: constLabels,
	})
	promSessionPersist = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   relayNamespace,
		Subsystem:   "recorder",
		Name:        "session_persist",
		ConstLabels: constLabels,
	}, []string{"state"})

	prometheus.MustRegister(promPacketRewritten)
	prometheus.MustRegister(promClockMiss)
	prometheus.MustRegister(promSessionPersist)
}

func IncPacketRewritten(outcome string) {
	if promPacketRewritten != nil {
		promPacketRewritten.WithLabelValues(outcome).Inc()
	}
}

func IncClockMiss() {
	if promClockMiss != nil {
		promClockMiss.Inc()
	}
}

func IncSessionPersist(success bool) {
	state := "ok"
	if !success {
		state = "error"
	}
	if promSessionPersist != nil {
		promSessionPersist.WithLabelValues(state).Inc()
	}
}
