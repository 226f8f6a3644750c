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
	"github.com/cockroachdb/errors"
)

var (
	// ErrNotInit is returned when an iterator is used before Init
	ErrNotInit = errors.New("mvcc: iterator not initialized")

	// ErrInvalidArgument is returned for nil keys, rows or collaborators
	ErrInvalidArgument = errors.New("mvcc: invalid argument")

	// ErrInvalidSnapshot is returned when the access context carries no snapshot version
	ErrInvalidSnapshot = errors.New("mvcc: invalid snapshot version")

	// ErrTxTableStale is returned when the read epoch no longer matches the tx table.
	// The caller refreshes its guard and retries.
	ErrTxTableStale = errors.New("mvcc: tx table epoch is stale")

	// ErrTxDataNotFound is returned when the tx table has no record of a transaction
	ErrTxDataNotFound = errors.New("mvcc: tx data not found")

	// ErrIterEnd is used between the row iterator and the query engine to signal the end of a scan.
	// It never escapes the produced surface; callers see ok=false instead.
	ErrIterEnd = errors.New("mvcc: iterator end")
)

// IsInvariantViolation reports whether err is an internal "should never happen" failure
func IsInvariantViolation(err error) bool {
	return errors.HasAssertionFailure(err)
}
