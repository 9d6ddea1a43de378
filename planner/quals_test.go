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

package planner

import (
	. "github.com/pingcap/check"

	"github.com/timescale/decompress-chunk/compression"
	"github.com/timescale/decompress-chunk/vecexpr"
)

var _ = Suite(&testQualsSuite{})

type testQualsSuite struct {
	table *compression.DescriptorTable
}

func (s *testQualsSuite) SetUpTest(c *C) {
	descs := []compression.ColumnDescriptor{
		{Kind: compression.KindCompressed, LogicalType: compression.TypeInt32, BulkOK: true, Name: "reading"},
		{Kind: compression.KindCompressed, LogicalType: compression.TypeText, BulkOK: true, Name: "label"},
		{Kind: compression.KindMetadataCount, OutputPosition: compression.MetadataOutputPosition, Name: "_ts_meta_count"},
	}
	for i := range descs {
		descs[i].InputPosition = i
	}
	table, err := compression.NewDescriptorTable(descs)
	c.Assert(err, IsNil)
	s.table = table
}

func (s *testQualsSuite) TestColumnOnLeftVectorizesDirectly(c *C) {
	q := RawQual{ColumnName: "reading", ColumnOnLeft: true, Op: vecexpr.OpGT, ConstValue: 10}
	res := ClassifyQuals([]RawQual{q}, s.table)
	c.Assert(res.Vectorized, HasLen, 1)
	c.Assert(res.Vectorized[0].Op, Equals, vecexpr.OpGT)
	c.Assert(res.Residual, HasLen, 0)
}

func (s *testQualsSuite) TestConstOnLeftCommutesOperator(c *C) {
	// `10 < reading` means `reading > 10`.
	q := RawQual{ColumnName: "reading", ColumnOnLeft: false, Op: vecexpr.OpLT, ConstValue: 10}
	res := ClassifyQuals([]RawQual{q}, s.table)
	c.Assert(res.Vectorized, HasLen, 1)
	c.Assert(res.Vectorized[0].Op, Equals, vecexpr.OpGT)
}

func (s *testQualsSuite) TestTwoColumnComparisonIsResidual(c *C) {
	q := RawQual{ColumnName: "reading", ColumnOnLeft: true, Op: vecexpr.OpEQ, OtherOperandIsColumnOrVolatile: true}
	res := ClassifyQuals([]RawQual{q}, s.table)
	c.Assert(res.Vectorized, HasLen, 0)
	c.Assert(res.Residual, HasLen, 1)
}

func (s *testQualsSuite) TestTextColumnNeverVectorizes(c *C) {
	q := RawQual{ColumnName: "label", ColumnOnLeft: true, Op: vecexpr.OpEQ, ConstValue: 0}
	res := ClassifyQuals([]RawQual{q}, s.table)
	c.Assert(res.Residual, HasLen, 1)
}

func (s *testQualsSuite) TestStrictNullConstantIsConstantFalse(c *C) {
	q := RawQual{ColumnName: "reading", ColumnOnLeft: true, Op: vecexpr.OpEQ, ConstNull: true}
	res := ClassifyQuals([]RawQual{q}, s.table)
	c.Assert(res.ConstantFalse, Equals, true)
}

func (s *testQualsSuite) TestUnknownColumnIsResidual(c *C) {
	q := RawQual{ColumnName: "not_a_column", ColumnOnLeft: true, Op: vecexpr.OpEQ, ConstValue: 1}
	res := ClassifyQuals([]RawQual{q}, s.table)
	c.Assert(res.Residual, HasLen, 1)
}
