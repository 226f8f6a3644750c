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
	"github.com/golang/snappy"
	"go.mongodb.org/mongo-driver/bson"
)

// checkpointMeta opens one checkpoint generation
type checkpointMeta struct {
	LastTxID int64 `bson:"last_tx_id"`
	Records  int64 `bson:"records"`
}

// txDataRecord is the on-disk form of TxData.  Versions are stored as int64
// with -1 standing for MaxVersion, which bson cannot hold.
type txDataRecord struct {
	TxID          int64        `bson:"tx_id"`
	State         int32        `bson:"state"`
	CommitVersion int64        `bson:"commit_version"`
	StartVersion  int64        `bson:"start_version"`
	UndoStatus    []UndoAction `bson:"undo_status,omitempty"`
}

// txDataBatch is the payload of one checkpoint block
type txDataBatch struct {
	Records []txDataRecord `bson:"records"`
}

func encodeVersion(v Version) int64 {
	if v == MaxVersion {
		return -1
	}
	return int64(v)
}

func decodeVersion(v int64) Version {
	if v < 0 {
		return MaxVersion
	}
	return Version(v)
}

func newTxDataRecord(d *TxData) txDataRecord {
	return txDataRecord{
		TxID:          int64(d.TxID),
		State:         int32(d.State),
		CommitVersion: encodeVersion(d.CommitVersion),
		StartVersion:  encodeVersion(d.StartVersion),
		UndoStatus:    d.UndoStatus,
	}
}

func (r txDataRecord) txData() (*TxData, error) {
	state := TxDataState(r.State)
	if state < TxDataStateRunning || state > TxDataStateELR {
		return nil, errors.Newf("invalid tx state %d for transaction %d", r.State, r.TxID)
	}
	return &TxData{
		TxID:          TransID(r.TxID),
		State:         state,
		CommitVersion: decodeVersion(r.CommitVersion),
		StartVersion:  decodeVersion(r.StartVersion),
		UndoStatus:    r.UndoStatus,
	}, nil
}

// serializeBlock bson-encodes v and compresses it with snappy
func serializeBlock(v interface{}) ([]byte, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode checkpoint block")
	}
	return snappy.Encode(nil, raw), nil
}

// deserializeBlock reverses serializeBlock into v
func deserializeBlock(data []byte, v interface{}) error {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return errors.Wrap(err, "failed to decompress checkpoint block")
	}
	if err := bson.Unmarshal(raw, v); err != nil {
		return errors.Wrap(err, "failed to decode checkpoint block")
	}
	return nil
}
