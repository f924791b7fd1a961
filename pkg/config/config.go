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

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

var ErrTargetSSRCRequired = errors.New("rewriter target_ssrc must be set")

type Config struct {
	NodeID      string `yaml:"node_id"`
	LogLevel    string `yaml:"log_level"`
	Development bool   `yaml:"development"`

	Rewriter  RewriterConfig  `yaml:"rewriter"`
	Recording RecordingConfig `yaml:"recording"`
}

type RewriterConfig struct {
	// SSRC stamped on the egress stream
	TargetSSRC uint32 `yaml:"target_ssrc"`
	// first sequence number handed to the first activated origin stream
	SeqnumBase uint32 `yaml:"seqnum_base"`
	// bound on cached remote clocks
	ClockCacheSize int `yaml:"clock_cache_size"`
	// closed intervals idle longer than this are eligible for eviction
	IntervalIdleTimeout time.Duration `yaml:"interval_idle_timeout"`
}

type RecordingConfig struct {
	// directory recording files are written into
	Dir string `yaml:"dir"`
}

var DefaultConfig = Config{
	NodeID:   "rtp-relay",
	LogLevel: "info",
	Rewriter: RewriterConfig{
		ClockCacheSize:      256,
		IntervalIdleTimeout: 5 * time.Minute,
	},
	Recording: RecordingConfig{
		Dir: ".",
	},
}

func NewConfig(confString string, strictMode bool, c *cli.Context) (*Config, error) {
	conf := DefaultConfig

	if confString != "" {
		decoder := yaml.NewDecoder(strings.NewReader(confString))
		decoder.KnownFields(strictMode)
		if err := decoder.Decode(&conf); err != nil {
			return nil, fmt.Errorf("could not parse config: %v", err)
		}
	}

	if c != nil {
		conf.updateFromCLI(c)
	}

	if conf.LogLevel == "" && conf.Development {
		conf.LogLevel = "debug"
	}
	if conf.Rewriter.TargetSSRC == 0 {
		return nil, ErrTargetSSRCRequired
	}

	return &conf, nil
}

func (conf *Config) updateFromCLI(c *cli.Context) {
	if c.IsSet("node-id") {
		conf.NodeID = c.String("node-id")
	}
	if c.IsSet("log-level") {
		conf.LogLevel = c.String("log-level")
	}
	if c.IsSet("dev") {
		conf.Development = c.Bool("dev")
	}
	if c.IsSet("target-ssrc") {
		conf.Rewriter.TargetSSRC = uint32(c.Uint64("target-ssrc"))
	}
	if c.IsSet("recording-dir") {
		conf.Recording.Dir = c.String("recording-dir")
	}
}
