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

// Package vecexpr is the vectorized predicate evaluator (C4): it evaluates
// `Var op Const` qualifiers directly over columnar buffers, producing a
// batch validity mask without ever materializing a row.
package vecexpr

import (
	"math"
	"strconv"

	"github.com/pingcap/errors"

	"github.com/timescale/decompress-chunk/arena"
	"github.com/timescale/decompress-chunk/batch"
	"github.com/timescale/decompress-chunk/compression"
)

// Operator is a comparison operator a qual may use.
type Operator int

const (
	OpInvalid Operator = iota
	OpEQ
	OpNE
	OpLT
	OpLE
	OpGT
	OpGE
)

// commuters maps an operator to the operator that preserves meaning when
// its operands are swapped — the planner's commutation rule from
// spec.md §4.1.
var commuters = map[Operator]Operator{
	OpEQ: OpEQ,
	OpNE: OpNE,
	OpLT: OpGT,
	OpGT: OpLT,
	OpLE: OpGE,
	OpGE: OpLE,
}

// Commute returns op's commuted form and whether one is registered. A
// qual with the constant on the left must fail to vectorize if this
// returns false, per spec.md's commutation rule.
func Commute(op Operator) (Operator, bool) {
	c, ok := commuters[op]
	return c, ok
}

// Strict reports whether op is strict: a strict operator applied to a
// null constant is a contradiction (spec.md §4.3), letting the batch be
// skipped without decompressing any other column.
func Strict(op Operator) bool {
	return true // every comparison operator in this registry is strict
}

// Registered reports whether op is in the vector-predicate registry for
// typ — the planner consults only this membership test, per SPEC_FULL.md
// §4.1, never the compiled comparator itself.
func Registered(op Operator, typ compression.LogicalType) bool {
	switch typ {
	case compression.TypeInt16, compression.TypeInt32, compression.TypeInt64,
		compression.TypeFloat4, compression.TypeFloat8, compression.TypeBool:
		switch op {
		case OpEQ, OpNE, OpLT, OpLE, OpGT, OpGE:
			return true
		}
	}
	return false
}

// Qual is one classified, vectorizable predicate: a column reference (by
// input position, with its logical type and width for decoding), an
// operator, and a runtime constant.
type Qual struct {
	InputPosition int
	Type          compression.LogicalType
	Op            Operator
	Const         float64 // every supported type's runtime constant, widened
	ConstText     string
	ConstNull     bool
}

// opSymbol renders op the way an EXPLAIN-style caller would expect to see
// it printed next to a column reference.
func opSymbol(op Operator) string {
	switch op {
	case OpEQ:
		return "="
	case OpNE:
		return "!="
	case OpLT:
		return "<"
	case OpLE:
		return "<="
	case OpGT:
		return ">"
	case OpGE:
		return ">="
	default:
		return "?"
	}
}

// String renders q for the operator's explain snapshot (spec.md §6's
// vectorized_quals field). q carries no column name, only its input
// position, so that is what gets printed.
func (q Qual) String() string {
	col := "col@" + strconv.Itoa(q.InputPosition)
	if q.ConstNull {
		return col + " " + opSymbol(q.Op) + " NULL"
	}
	if q.ConstText != "" {
		return col + " " + opSymbol(q.Op) + " \"" + q.ConstText + "\""
	}
	return col + " " + opSymbol(q.Op) + " " + strconv.FormatFloat(q.Const, 'g', -1, 64)
}

// ConstantFalse is a one-shot flag the planner or evaluator can set when a
// qual constifies to a literal false; the operator must then emit no rows
// and make no further child exec calls beyond what is already consumed
// (spec.md §4.3, §8 boundary behavior).
type ConstantFalse struct{}

func (ConstantFalse) Error() string { return "qualifier constified to a literal false" }

// ReadElement decodes element i of arr as a float64 for numeric
// comparison, per the registered logical type. Exported for reuse by the
// heap queue's sort-key comparator, which needs the same decoding.
func ReadElement(arr *arena.ColumnarArray, i int, typ compression.LogicalType) float64 {
	return readElement(arr, i, typ)
}

func readElement(arr *arena.ColumnarArray, i int, typ compression.LogicalType) float64 {
	off := i * typ.Width()
	switch typ {
	case compression.TypeBool:
		if arr.Values[off] != 0 {
			return 1
		}
		return 0
	case compression.TypeInt16:
		v := int16(arr.Values[off]) | int16(arr.Values[off+1])<<8
		return float64(v)
	case compression.TypeInt32:
		v := int32(arr.Values[off]) | int32(arr.Values[off+1])<<8 | int32(arr.Values[off+2])<<16 | int32(arr.Values[off+3])<<24
		return float64(v)
	case compression.TypeInt64:
		var v int64
		for b := 0; b < 8; b++ {
			v |= int64(arr.Values[off+b]) << (8 * b)
		}
		return float64(v)
	case compression.TypeFloat4:
		var bits uint32
		for b := 0; b < 4; b++ {
			bits |= uint32(arr.Values[off+b]) << (8 * b)
		}
		return float64(math.Float32frombits(bits))
	case compression.TypeFloat8:
		var bits uint64
		for b := 0; b < 8; b++ {
			bits |= uint64(arr.Values[off+b]) << (8 * b)
		}
		return math.Float64frombits(bits)
	default:
		return 0
	}
}

func compare(op Operator, v, c float64) bool {
	switch op {
	case OpEQ:
		return v == c
	case OpNE:
		return v != c
	case OpLT:
		return v < c
	case OpLE:
		return v <= c
	case OpGT:
		return v > c
	case OpGE:
		return v >= c
	default:
		return false
	}
}

// setBit/clearBit/bit mirror arena.ColumnarArray's bitmap convention for a
// standalone mask not tied to a ColumnarArray.
func setBit(mask []byte, i int)   { mask[i/8] |= 1 << uint(i%8) }
func clearBit(mask []byte, i int) { mask[i/8] &^= 1 << uint(i%8) }
func bit(mask []byte, i int) bool { return mask[i/8]&(1<<uint(i%8)) != 0 }

func allOnes(n int) []byte {
	m := make([]byte, (n+7)/8)
	for i := range m {
		m[i] = 0xff
	}
	if n%8 != 0 {
		m[len(m)-1] = byte(1<<uint(n%8)) - 1
	}
	return m
}

// Evaluate implements §4.3: start mask = validity-of-first-qual (or
// all-ones for no quals), successive quals AND into the mask. A qual
// whose constant is null and whose operator is strict is a contradiction:
// the whole batch is skipped (an all-zero mask is installed and Evaluate
// returns nil) without decompressing other columns. The inner loop is branch-free over the batch length —
// predicate-true is computed unconditionally for every element, then
// ANDed under the null mask.
func Evaluate(b *batch.State, quals []Qual, decode func(inputPos int) (*arena.ColumnarArray, error)) error {
	n := b.Length()
	if len(quals) == 0 {
		return nil
	}
	mask := allOnes(n)
	for _, q := range quals {
		if q.ConstNull && Strict(q.Op) {
			b.SetValidity(make([]byte, (n+7)/8)) // all-zero: contradiction
			return nil
		}
		arr, err := decode(q.InputPosition)
		if err != nil {
			return errors.Trace(err)
		}
		for i := 0; i < n; i++ {
			v := readElement(arr, i, q.Type)
			truth := compare(q.Op, v, q.Const)
			valid := arr.ValidAt(i)
			// branch-free: AND predicate-true with validity, AND into mask.
			keep := boolToByte(truth) & boolToByte(valid) & boolToByte(bit(mask, i))
			mask[i/8] = mask[i/8]&^(1<<uint(i%8)) | keep<<uint(i%8)
		}
	}
	b.SetValidity(mask)
	return nil
}

func boolToByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
