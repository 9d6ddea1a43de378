// Copyright 2024 The decompress-chunk Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

// Package compression describes the shape of a compressed input row and
// the static, per-scan mapping from that row's attributes to the
// decompression operator's logical output columns.
package compression

import "github.com/pingcap/errors"

// LogicalType is the element type of a logical column once decompressed.
type LogicalType int

const (
	// TypeInvalid is the zero value; a ColumnDescriptor must never carry it.
	TypeInvalid LogicalType = iota
	TypeBool
	TypeInt16
	TypeInt32
	TypeInt64
	TypeFloat4
	TypeFloat8
	TypeText
)

// Width returns the fixed element width in bytes, or -1 for variable-width
// types (Text, whose values buffer holds offsets into a separate byte arena).
func (t LogicalType) Width() int {
	switch t {
	case TypeBool:
		return 1
	case TypeInt16:
		return 2
	case TypeInt32, TypeFloat4:
		return 4
	case TypeInt64, TypeFloat8:
		return 8
	case TypeText:
		return -1
	default:
		return 0
	}
}

func (t LogicalType) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt16:
		return "int16"
	case TypeInt32:
		return "int32"
	case TypeInt64:
		return "int64"
	case TypeFloat4:
		return "float4"
	case TypeFloat8:
		return "float8"
	case TypeText:
		return "text"
	default:
		return "invalid"
	}
}

// NMax is the hard ceiling on logical rows per compressed batch.
const NMax = 1024

// ColumnKind classifies one attribute of the compressed input row.
type ColumnKind int

const (
	// KindInvalid is the zero value.
	KindInvalid ColumnKind = iota
	// KindSegmentby is a scalar shared by every row of the batch.
	KindSegmentby
	// KindCompressed is an opaque blob that bulk-decompresses to an array.
	KindCompressed
	// KindMetadataCount is the mandatory per-batch row count; never exposed.
	KindMetadataCount
	// KindMetadataSequence is the optional ordering tag; never exposed.
	KindMetadataSequence
)

func (k ColumnKind) String() string {
	switch k {
	case KindSegmentby:
		return "segmentby"
	case KindCompressed:
		return "compressed"
	case KindMetadataCount:
		return "metadata-count"
	case KindMetadataSequence:
		return "metadata-sequence"
	default:
		return "invalid"
	}
}

// MetadataOutputPosition is the sentinel output_position for columns that
// are consumed internally and never exposed to the consumer.
const MetadataOutputPosition = -1

// ColumnDescriptor is the tuple described by the data model: how one
// attribute of the compressed input row maps onto the operator's output.
type ColumnDescriptor struct {
	InputPosition  int
	OutputPosition int
	Kind           ColumnKind
	LogicalType    LogicalType
	ValueWidth     int
	BulkOK         bool
	// Codec names the compression algorithm used to encode this column's
	// blobs; meaningful only when Kind == KindCompressed.
	Codec string
	// Name is carried through for error messages and the explain hook; it is
	// not part of the execution-time contract.
	Name string
}

// Validate checks the per-descriptor invariants from the data model.
func (d ColumnDescriptor) Validate() error {
	switch d.Kind {
	case KindSegmentby:
		if d.BulkOK {
			return errors.Errorf("column %q: segmentby column cannot be bulk_ok", d.Name)
		}
	case KindCompressed:
		// bulk_ok is meaningful (may be true or false) only for this kind;
		// nothing further to check here.
	case KindMetadataCount, KindMetadataSequence:
		if d.OutputPosition != MetadataOutputPosition {
			return errors.Errorf("column %q: metadata column must have sentinel output position", d.Name)
		}
	default:
		return errors.Errorf("column %q: invalid column kind", d.Name)
	}
	return nil
}

// DescriptorTable is the full per-scan mapping, reordered so that
// KindCompressed descriptors occupy the dense prefix [0, NumCompressed) —
// hot loops (bulk decompression, vectorized quals) iterate only that
// prefix and never branch on kind inside the loop body.
type DescriptorTable struct {
	Descriptors   []ColumnDescriptor
	NumCompressed int
}

// CountColumn returns the mandatory count-metadata descriptor, or an error
// if the table was built without one (a planner-contract violation).
func (t *DescriptorTable) CountColumn() (ColumnDescriptor, error) {
	for _, d := range t.Descriptors {
		if d.Kind == KindMetadataCount {
			return d, nil
		}
	}
	return ColumnDescriptor{}, errors.New("compressed input row is missing the mandatory count metadata column")
}

// SequenceColumn returns the optional sequence-number descriptor and
// whether it is present.
func (t *DescriptorTable) SequenceColumn() (ColumnDescriptor, bool) {
	for _, d := range t.Descriptors {
		if d.Kind == KindMetadataSequence {
			return d, true
		}
	}
	return ColumnDescriptor{}, false
}

// Compressed returns the dense prefix of KindCompressed descriptors.
func (t *DescriptorTable) Compressed() []ColumnDescriptor {
	return t.Descriptors[:t.NumCompressed]
}

// build returns a reordered copy of descs in which KindCompressed entries
// form a dense prefix, preserving relative order otherwise; descs itself
// is left unchanged.
func build(descs []ColumnDescriptor) *DescriptorTable {
	ordered := make([]ColumnDescriptor, 0, len(descs))
	var rest []ColumnDescriptor
	for _, d := range descs {
		if d.Kind == KindCompressed {
			ordered = append(ordered, d)
		} else {
			rest = append(rest, d)
		}
	}
	n := len(ordered)
	ordered = append(ordered, rest...)
	return &DescriptorTable{Descriptors: ordered, NumCompressed: n}
}

// NewDescriptorTable validates every descriptor and builds the dense-prefix
// layout described in the data model.
func NewDescriptorTable(descs []ColumnDescriptor) (*DescriptorTable, error) {
	for _, d := range descs {
		if err := d.Validate(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	t := build(descs)
	if _, err := t.CountColumn(); err != nil {
		return nil, errors.Trace(err)
	}
	return t, nil
}

// CompressedBatch is the opaque input row the child scan delivers: one
// value per descriptor (scalar, blob, count, or sequence number), plus
// optional min/max metadata for the presort decision of §4.1.
type CompressedBatch struct {
	// Values holds one entry per descriptor in the DescriptorTable that
	// produced this batch, aligned by InputPosition.
	Values []interface{}
	// Count is the mandatory row count; duplicated from Values for the
	// common case where callers only need it.
	Count uint32
	// SequenceNum is valid iff the table has a sequence descriptor.
	SequenceNum int64
	// MinMax maps an input position to its (min, max) scalars, for
	// columns the planner selected as sort-info presort keys.
	MinMax map[int][2]interface{}
}
