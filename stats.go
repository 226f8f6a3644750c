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
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats counts memstore read events.  A nil *Stats records nothing.
type Stats struct {
	readLockWait       prometheus.Histogram
	readLockSucc       prometheus.Counter
	readLockFail       prometheus.Counter
	rowPurge           prometheus.Counter
	cleanout           prometheus.Counter
	invariantViolation prometheus.Counter
}

// NewStats creates the collectors and registers them on reg if it is not nil
func NewStats(reg prometheus.Registerer) (*Stats, error) {
	s := &Stats{
		readLockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "memstore",
			Name:      "wait_read_lock_seconds",
			Help:      "Time spent resolving the visible version of a row.",
			Buckets:   prometheus.ExponentialBuckets(1e-7, 4, 10),
		}),
		readLockSucc: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memstore",
			Name:      "read_lock_succ_total",
			Help:      "Lock-for-read calls that succeeded.",
		}),
		readLockFail: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memstore",
			Name:      "read_lock_fail_total",
			Help:      "Lock-for-read calls that failed.",
		}),
		rowPurge: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memstore",
			Name:      "row_purge_total",
			Help:      "Rows purged by the range purger.",
		}),
		cleanout: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memstore",
			Name:      "tx_node_cleanout_total",
			Help:      "Delayed-cleanout nodes that were decided by a reader.",
		}),
		invariantViolation: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memstore",
			Name:      "lock_for_read_unexpected_total",
			Help:      "Lock-for-read calls that hit an impossible node state.",
		}),
	}

	if reg != nil {
		for _, c := range s.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

func (s *Stats) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		s.readLockWait, s.readLockSucc, s.readLockFail,
		s.rowPurge, s.cleanout, s.invariantViolation,
	}
}

// observeLockForRead records one resolution
func (s *Stats) observeLockForRead(start time.Time, err error) {
	if s == nil {
		return
	}
	s.readLockWait.Observe(time.Since(start).Seconds())
	if err != nil {
		s.readLockFail.Inc()
	} else {
		s.readLockSucc.Inc()
	}
}

func (s *Stats) incRowPurge() {
	if s == nil {
		return
	}
	s.rowPurge.Inc()
}

func (s *Stats) incCleanout() {
	if s == nil {
		return
	}
	s.cleanout.Inc()
}

func (s *Stats) incInvariantViolation() {
	if s == nil {
		return
	}
	s.invariantViolation.Inc()
}
