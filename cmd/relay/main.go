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

package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/livekit/protocol/logger"
	"github.com/pion/rtp"
	"github.com/urfave/cli/v2"

	"github.com/alianza-dev/rtp-relay/pkg/clock"
	"github.com/alianza-dev/rtp-relay/pkg/config"
	"github.com/alianza-dev/rtp-relay/pkg/dump"
	serverlogger "github.com/alianza-dev/rtp-relay/pkg/logger"
	"github.com/alianza-dev/rtp-relay/pkg/recorder"
	"github.com/alianza-dev/rtp-relay/pkg/rewriter"
	"github.com/alianza-dev/rtp-relay/pkg/rtputil"
	"github.com/alianza-dev/rtp-relay/pkg/telemetry/prometheus"
	"github.com/alianza-dev/rtp-relay/pkg/wav"
	"github.com/alianza-dev/rtp-relay/version"
)

var baseFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "config",
		Usage: "path of the config file",
	},
	&cli.StringFlag{
		Name:    "config-body",
		Usage:   "config in YAML, typically passed in as an environment var in a container",
		EnvVars: []string{"RTP_RELAY_CONFIG"},
	},
	&cli.StringFlag{
		Name:  "node-id",
		Usage: "generated",
	},
	&cli.StringFlag{
		Name:  "log-level",
		Usage: "generated",
	},
	&cli.BoolFlag{
		Name:  "dev",
		Usage: "sets log-level to debug and console formatting",
	},
	&cli.Uint64Flag{
		Name:  "target-ssrc",
		Usage: "generated",
	},
	&cli.StringFlag{
		Name:  "recording-dir",
		Usage: "generated",
	},
	&cli.StringFlag{
		Name:  "input",
		Usage: "path of the RTP packet dump to replay",
	},
	&cli.StringFlag{
		Name:  "wav-input",
		Usage: "path of a wav file to packetize and replay instead of a dump",
	},
	&cli.Uint64Flag{
		Name:  "wav-ssrc",
		Usage: "origin SSRC of packets synthesized from the wav input",
		Value: 0x77617601,
	},
	&cli.StringFlag{
		Name:  "session",
		Usage: "recording session name",
		Value: "relay",
	},
}

func main() {
	app := &cli.App{
		Name:    "rtp-relay",
		Usage:   "replay an RTP packet dump through the SSRC rewriting engine",
		Version: version.Version,
		Flags:   baseFlags,
		Action:  replay,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func getConfig(c *cli.Context) (*config.Config, error) {
	confString := c.String("config-body")
	if confString == "" {
		if confFile := c.String("config"); confFile != "" {
			b, err := os.ReadFile(confFile)
			if err != nil {
				return nil, err
			}
			confString = string(b)
		}
	}
	return config.NewConfig(confString, true, c)
}

func replay(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}

	if conf.Development {
		serverlogger.InitDevelopment(conf.LogLevel)
	} else {
		serverlogger.InitProduction(conf.LogLevel)
	}
	prometheus.Init(conf.NodeID)

	log := logger.GetLogger()
	log.Infow("starting rtp-relay", "version", version.Version, "nodeID", conf.NodeID)

	extender := rtputil.NewSequenceExtender()
	provider, err := clock.NewProvider(conf.Rewriter.ClockCacheSize, log)
	if err != nil {
		return err
	}

	engine := rewriter.NewRewritingEngine(rewriter.RewritingEngineParams{
		Extender:   extender,
		Translator: clock.NewTranslator(provider, log),
		Logger:     log,
	})
	group, err := engine.CreateGroup(conf.Rewriter.TargetSSRC, conf.Rewriter.SeqnumBase)
	if err != nil {
		return err
	}

	registry := recorder.NewRegistry(conf.Recording.Dir, log)
	sessionName := c.String("session")

	var next func() (*rtp.Packet, error)
	switch {
	case c.String("input") != "":
		f, err := os.Open(c.String("input"))
		if err != nil {
			return err
		}
		defer f.Close()
		next = dump.NewReader(f).Next
	case c.String("wav-input") != "":
		next, err = wavSource(c.String("wav-input"), uint32(c.Uint64("wav-ssrc")))
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("either --input or --wav-input must be provided")
	}

	// recording is keyed by the extended egress sequence number so wire
	// number reuse after wraparound never coalesces two packets
	recSeqnum := rtputil.NewWrapAround()

	replayed := 0
	for {
		pkt, err := next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		originSSRC := pkt.SSRC
		if mapErr := engine.MapOrigin(originSSRC, conf.Rewriter.TargetSSRC); mapErr != nil {
			return mapErr
		}
		extender.Track(originSSRC)
		group.ActivateOrCreate(originSSRC)

		outcome := engine.RewriteRTP(pkt)
		replayed++

		// unrewritten packets keep their origin sequence number and must
		// not advance the egress tracker
		if outcome == rewriter.RewriteOutcomeUnmatched {
			continue
		}
		if extSeqnum, ok := recSeqnum.Update(pkt.SequenceNumber); ok {
			registry.Record(sessionName, extSeqnum, pkt.Payload)
		}
	}

	if err = registry.Persist(sessionName); err != nil {
		return err
	}
	registry.Shutdown()

	if idle := conf.Rewriter.IntervalIdleTimeout; idle > 0 {
		if evicted := group.EvictIdleIntervals(time.Now().Add(-idle)); evicted > 0 {
			log.Debugw("evicted idle intervals", "count", evicted)
		}
	}

	log.Infow("replay complete", "packets", replayed, "session", sessionName)
	log.Debugw("engine state", "debug", engine.DebugInfo())
	return nil
}

// wavSource packetizes a wav file into 20ms RTP payloads.
func wavSource(path string, ssrc uint32) (func() (*rtp.Packet, error), error) {
	w, err := wav.ReadFile(path)
	if err != nil {
		return nil, err
	}

	framesPerPayload := int(w.SampleRate / 50)
	payloads := w.Frames(framesPerPayload)

	idx := 0
	seqnum := uint16(1)
	timestamp := uint32(0)
	return func() (*rtp.Packet, error) {
		if idx >= len(payloads) {
			return nil, io.EOF
		}
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				SequenceNumber: seqnum,
				Timestamp:      timestamp,
				SSRC:           ssrc,
			},
			Payload: payloads[idx],
		}
		idx++
		seqnum++
		timestamp += uint32(framesPerPayload)
		return pkt, nil
	}, nil
}
