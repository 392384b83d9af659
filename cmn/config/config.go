// Package config holds the runtime's process-wide tunables behind a single
// Global Config Owner (GCO): one atomically-swapped pointer, read through
// Get() everywhere, written only at Init or by an explicit reload.
/*
 * Copyright (c) 2024, Sourcery Institute. All rights reserved.
 */
package config

import (
	"os"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/sourceryinstitute/libcaf-go/cmn/nlog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config is the runtime-wide set of tunables. Zero value is usable; Load
// overlays a JSON file, read from the path exactly as given, onto sane
// defaults. PREFIX_NAME is only recorded in PrefixName.
type Config struct {
	// Sync / locks / events
	LockSpinBackoff  time.Duration `json:"lock_spin_backoff"`
	LockSpinMax      time.Duration `json:"lock_spin_max"`
	EventPollBackoff time.Duration `json:"event_poll_backoff"`

	// Remote-function channel
	ChannelBufSize int `json:"channel_buf_size"`
	AccessorGrowBy int `json:"accessor_grow_by"`
	MaxInlineBytes int `json:"max_inline_bytes"` // not read by any package; memsys spills to heap above its largest slab class

	// Transfer engine
	PendingPutQueueDepth int64 `json:"pending_put_queue_depth"` // semaphore weight

	// Environment
	PrefixName string `json:"-"`

	// FailedImageDetection is decoded from the config file but not read by
	// any package; no background receive or error handler exists for it.
	FailedImageDetection bool `json:"failed_image_detection"`

	// CompressChannelPayloads toggles lz4 frame compression on
	// remote-function channel payloads at or above CompressMinSize bytes.
	CompressChannelPayloads bool  `json:"compress_channel_payloads"`
	CompressMinSize         int64 `json:"compress_min_size"`
}

func defaults() *Config {
	return &Config{
		LockSpinBackoff:      50 * time.Microsecond,
		LockSpinMax:          10 * time.Millisecond,
		EventPollBackoff:     100 * time.Microsecond,
		ChannelBufSize:       64,
		AccessorGrowBy:       16,
		MaxInlineBytes:       4096,
		PendingPutQueueDepth: 1 << 20,
		FailedImageDetection: false,
		CompressMinSize:      32 << 10,
	}
}

type gco struct {
	v atomic.Value // *Config
}

var owner gco

func init() { owner.v.Store(defaults()) }

// Get returns the current process-wide configuration. Never mutate the
// returned pointer's fields; call Update to install a new one.
func Get() *Config { return owner.v.Load().(*Config) }

// Update installs a new configuration, typically built by mutating a copy
// of Get().
func Update(c *Config) { owner.v.Store(c) }

// Load overlays a JSON config file onto the defaults and installs it. A
// missing file is not an error: the defaults remain in effect.
func Load(path string) error {
	c := defaults()
	c.PrefixName = os.Getenv("PREFIX_NAME")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			Update(c)
			return nil
		}
		return errors.Wrapf(err, "config: failed to read %s", path)
	}
	if err := json.Unmarshal(b, c); err != nil {
		return errors.Wrapf(err, "config: failed to parse %s", path)
	}
	Update(c)
	nlog.Infof("config: loaded from %s", path)
	return nil
}
