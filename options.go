// Package mvcc
//
// (C) Copyright Alex Gaetano Padula
//
// Licensed under the Mozilla Public License, v. 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.mozilla.org/en-US/MPL/2.0/
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package mvcc

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/wildcatdb/mvcc/blockmanager"
)

// Defaults
const (
	DefaultTxTableShards       = 16
	DefaultBlockManagerLRUSize = 8 // Open checkpoint files kept around
	DefaultCheckpointSync      = blockmanager.SyncFull
	DefaultPermission          = 0640
	DefaultLogLevel            = "warn"
	DefaultKeyFilterKeys       = 1 << 16
	DefaultKeyFilterFPR        = 0.01
)

// Options configures a Memtable and its TxDataTable
type Options struct {
	TxTableShards        int                      `toml:"tx_table_shards"`        // Number of tx table shards
	BlockManagerLRUSize  int                      `toml:"block_manager_lru_size"` // Open checkpoint block managers to cache
	CheckpointSyncOption *blockmanager.SyncOption `toml:"checkpoint_sync_option"` // Sync mode for checkpoint files, DefaultCheckpointSync when nil
	Permission           os.FileMode              `toml:"permission"`             // Permission for checkpoint files
	EnableStats          bool                     `toml:"enable_stats"`           // Collect lock-for-read statistics
	LogLevel             string                   `toml:"log_level"`              // logrus level name
	DisableKeyFilter     bool                     `toml:"disable_key_filter"`     // Skip the memtable bloom filter on point reads
	KeyFilterKeys        uint                     `toml:"key_filter_keys"`        // Expected keys the filter is sized for
	KeyFilterFPR         float64                  `toml:"key_filter_fpr"`         // Target false positive rate of the filter
	Logger               *logrus.Logger           `toml:"-"`                      // Logger, one is created when nil
	Registerer           prometheus.Registerer    `toml:"-"`                      // Where stats are registered, none when nil
}

// LoadOptions reads options from a TOML file and fills in defaults
func LoadOptions(path string) (*Options, error) {
	opts := &Options{}
	if _, err := toml.DecodeFile(path, opts); err != nil {
		return nil, errors.Wrapf(err, "failed to decode options file %s", path)
	}
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	return opts, nil
}

// CheckpointSync returns a pointer to o for Options.CheckpointSyncOption
func CheckpointSync(o blockmanager.SyncOption) *blockmanager.SyncOption {
	return &o
}

// normalize fills in defaults for unset values
func (opts *Options) normalize() error {
	if opts.TxTableShards <= 0 {
		opts.TxTableShards = DefaultTxTableShards
	}

	if opts.BlockManagerLRUSize <= 0 {
		opts.BlockManagerLRUSize = DefaultBlockManagerLRUSize
	}

	if opts.CheckpointSyncOption == nil {
		opts.CheckpointSyncOption = CheckpointSync(DefaultCheckpointSync)
	} else if o := *opts.CheckpointSyncOption; o < blockmanager.SyncNone || o > blockmanager.SyncFull {
		return errors.Wrapf(ErrInvalidArgument, "checkpoint sync option %d", o)
	}

	if opts.Permission == 0 {
		opts.Permission = DefaultPermission
	}

	if opts.KeyFilterKeys == 0 {
		opts.KeyFilterKeys = DefaultKeyFilterKeys
	}

	if opts.KeyFilterFPR <= 0 || opts.KeyFilterFPR >= 1 {
		opts.KeyFilterFPR = DefaultKeyFilterFPR
	}

	if opts.LogLevel == "" {
		opts.LogLevel = DefaultLogLevel
	}

	if opts.Logger == nil {
		level, err := logrus.ParseLevel(opts.LogLevel)
		if err != nil {
			return errors.Wrapf(ErrInvalidArgument, "log level %q", opts.LogLevel)
		}
		logger := logrus.New()
		logger.SetLevel(level)
		opts.Logger = logger
	}

	return nil
}

// DefaultOptions returns options with every default applied
func DefaultOptions() *Options {
	opts := &Options{}
	_ = opts.normalize()
	return opts
}
