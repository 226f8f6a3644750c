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
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewStats(reg)
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, name := range []string{
		"memstore_read_lock_succ_total",
		"memstore_read_lock_fail_total",
		"memstore_row_purge_total",
		"memstore_tx_node_cleanout_total",
		"memstore_lock_for_read_unexpected_total",
	} {
		assert.True(t, names[name], "%s not registered", name)
	}

	_, err = NewStats(reg)
	assert.Error(t, err, "registering twice collides")
}

func TestStatsCount(t *testing.T) {
	s, err := NewStats(nil)
	require.NoError(t, err)

	s.observeLockForRead(time.Now(), nil)
	s.observeLockForRead(time.Now(), nil)
	s.observeLockForRead(time.Now(), errors.New("boom"))
	s.incRowPurge()
	s.incCleanout()
	s.incInvariantViolation()

	assert.Equal(t, 2.0, testutil.ToFloat64(s.readLockSucc))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.readLockFail))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.rowPurge))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.cleanout))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.invariantViolation))
	assert.Equal(t, 1, testutil.CollectAndCount(s.readLockWait))
}

func TestStatsNil(t *testing.T) {
	var s *Stats

	// A nil Stats records nothing and never panics
	s.observeLockForRead(time.Now(), nil)
	s.incRowPurge()
	s.incCleanout()
	s.incInvariantViolation()
}
