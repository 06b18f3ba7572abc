// Copyright 2025 The Cascade Authors.
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

package aggfuncs

import (
	"math"
	"sort"
	"time"

	"github.com/pingcap/errors"

	"github.com/cascadedb/cascade/storage"
	"github.com/cascadedb/cascade/tuple"
	"github.com/cascadedb/cascade/types"
)

func init() {
	register(&Definition{
		Name:        "percentile_disc",
		OrderedSet:  true,
		FinalSorted: finalPercentileDisc,
	})
	register(&Definition{
		Name:        "percentile_cont",
		OrderedSet:  true,
		FinalSorted: finalPercentileCont,
	})
	register(&Definition{
		Name:        "percentile_disc_multi",
		OrderedSet:  true,
		FinalSorted: finalPercentileDiscMulti,
	})
	register(&Definition{
		Name:        "percentile_cont_multi",
		OrderedSet:  true,
		FinalSorted: finalPercentileContMulti,
	})
	register(&Definition{
		Name:        "mode",
		OrderedSet:  true,
		FinalSorted: finalMode,
	})
	register(&Definition{
		Name:         "rank",
		OrderedSet:   true,
		Hypothetical: true,
		FinalSorted:  finalHypothetical(hypoRank),
	})
	register(&Definition{
		Name:         "dense_rank",
		OrderedSet:   true,
		Hypothetical: true,
		FinalSorted:  finalHypothetical(hypoDenseRank),
	})
	register(&Definition{
		Name:         "percent_rank",
		OrderedSet:   true,
		Hypothetical: true,
		FinalSorted:  finalHypothetical(hypoPercentRank),
	})
	register(&Definition{
		Name:         "cume_dist",
		OrderedSet:   true,
		Hypothetical: true,
		FinalSorted:  finalHypothetical(hypoCumeDist),
	})
}

func fraction(fc *FinalContext) (float64, error) {
	if len(fc.Direct) == 0 || fc.Direct[0].IsNull() {
		return 0, errors.New("percentile requires a fraction argument")
	}
	return checkFraction(fc.Direct[0])
}

func checkFraction(d types.Datum) (float64, error) {
	p, err := d.AsFloat64()
	if err != nil {
		return 0, errors.Trace(err)
	}
	if p < 0 || p > 1 || math.IsNaN(p) {
		return 0, ErrFractionOutOfRange.Gen("percentile fraction %v is not between 0 and 1", p)
	}
	return p, nil
}

// multiFractions expands the direct arguments of the array percentile
// variants into one fraction datum per result element. A single list-valued
// direct argument contributes its elements.
func multiFractions(fc *FinalContext) ([]types.Datum, error) {
	if len(fc.Direct) == 0 {
		return nil, errors.New("percentile requires a fraction argument")
	}
	if len(fc.Direct) == 1 && fc.Direct[0].Kind() == types.KindList {
		return fc.Direct[0].GetList(), nil
	}
	return fc.Direct, nil
}

// collectRows reads the requested 1-based sorted row numbers in a single
// forward sweep of the sort.
func collectRows(fc *FinalContext, want []int) (map[int]types.Datum, error) {
	ordered := append([]int(nil), want...)
	sort.Ints(ordered)
	out := make(map[int]types.Datum, len(ordered))
	fc.Sorter.Rescan()
	pos := 0
	for _, r := range ordered {
		if _, done := out[r]; done {
			continue
		}
		if err := fc.Sorter.SkipTuples(r - 1 - pos); err != nil {
			return nil, errors.Trace(err)
		}
		d, ok, err := fc.Sorter.GetDatum(storage.Forward)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if !ok {
			return nil, errors.Errorf("percentile target row %d past end of sort", r)
		}
		out[r] = d
		pos = r
	}
	return out, nil
}

// finalPercentileDiscMulti is the array form of percentile_disc: the needed
// target rows are gathered in one pass over the sort, in row order.
func finalPercentileDiscMulti(fc *FinalContext) (types.Datum, error) {
	fracs, err := multiFractions(fc)
	if err != nil {
		return types.Datum{}, errors.Trace(err)
	}
	rows := make([]int, len(fracs))
	var want []int
	for i, f := range fracs {
		if f.IsNull() {
			continue
		}
		p, err := checkFraction(f)
		if err != nil {
			return types.Datum{}, errors.Trace(err)
		}
		if fc.N == 0 {
			continue
		}
		idx := int(math.Ceil(p * float64(fc.N)))
		if idx < 1 {
			idx = 1
		}
		rows[i] = idx
		want = append(want, idx)
	}
	if fc.N == 0 {
		return types.Datum{}, nil
	}
	got, err := collectRows(fc, want)
	if err != nil {
		return types.Datum{}, errors.Trace(err)
	}
	elems := make([]types.Datum, len(fracs))
	for i, r := range rows {
		if r != 0 {
			elems[i] = got[r]
		}
	}
	return types.NewListDatum(elems), nil
}

// finalPercentileContMulti is the array form of percentile_cont. Each
// fraction needs at most two bracketing rows; all of them are fetched in one
// pass, then interpolated.
func finalPercentileContMulti(fc *FinalContext) (types.Datum, error) {
	fracs, err := multiFractions(fc)
	if err != nil {
		return types.Datum{}, errors.Trace(err)
	}
	type target struct {
		lo, hi int
		frac   float64
	}
	targets := make([]target, len(fracs))
	var want []int
	for i, f := range fracs {
		if f.IsNull() {
			continue
		}
		p, err := checkFraction(f)
		if err != nil {
			return types.Datum{}, errors.Trace(err)
		}
		if fc.N == 0 {
			continue
		}
		rn := p * float64(fc.N-1)
		lo := int(math.Floor(rn)) + 1
		frac := rn - math.Floor(rn)
		targets[i] = target{lo: lo, frac: frac}
		want = append(want, lo)
		if frac != 0 {
			targets[i].hi = lo + 1
			want = append(want, lo+1)
		}
	}
	if fc.N == 0 {
		return types.Datum{}, nil
	}
	got, err := collectRows(fc, want)
	if err != nil {
		return types.Datum{}, errors.Trace(err)
	}
	elems := make([]types.Datum, len(fracs))
	for i, tg := range targets {
		if tg.lo == 0 {
			continue
		}
		dlo := got[tg.lo]
		lo, err := dlo.AsFloat64()
		if err != nil {
			return types.Datum{}, errors.Trace(err)
		}
		interval := dlo.Kind() == types.KindInterval
		if tg.hi == 0 {
			elems[i] = contResult(lo, interval)
			continue
		}
		hi, err := got[tg.hi].AsFloat64()
		if err != nil {
			return types.Datum{}, errors.Trace(err)
		}
		elems[i] = contResult(lo+tg.frac*(hi-lo), interval)
	}
	return types.NewListDatum(elems), nil
}

// finalPercentileDisc returns the first input value whose position reaches
// the requested fraction: row ceil(p*N), 1-based.
func finalPercentileDisc(fc *FinalContext) (types.Datum, error) {
	p, err := fraction(fc)
	if err != nil {
		return types.Datum{}, errors.Trace(err)
	}
	if fc.N == 0 {
		return types.Datum{}, nil
	}
	idx := int(math.Ceil(p * float64(fc.N)))
	if idx < 1 {
		idx = 1
	}
	fc.Sorter.Rescan()
	if err := fc.Sorter.SkipTuples(idx - 1); err != nil {
		return types.Datum{}, errors.Trace(err)
	}
	d, ok, err := fc.Sorter.GetDatum(storage.Forward)
	if err != nil {
		return types.Datum{}, errors.Trace(err)
	}
	if !ok {
		return types.Datum{}, nil
	}
	return d, nil
}

// finalPercentileCont interpolates between the two rows bracketing the
// requested continuous row number 1 + p*(N-1).
func finalPercentileCont(fc *FinalContext) (types.Datum, error) {
	p, err := fraction(fc)
	if err != nil {
		return types.Datum{}, errors.Trace(err)
	}
	if fc.N == 0 {
		return types.Datum{}, nil
	}
	rn := p * float64(fc.N-1)
	skip := int(math.Floor(rn))
	frac := rn - float64(skip)

	fc.Sorter.Rescan()
	if err := fc.Sorter.SkipTuples(skip); err != nil {
		return types.Datum{}, errors.Trace(err)
	}
	dlo, ok, err := fc.Sorter.GetDatum(storage.Forward)
	if err != nil || !ok {
		return types.Datum{}, errors.Trace(err)
	}
	lo, err := dlo.AsFloat64()
	if err != nil {
		return types.Datum{}, errors.Trace(err)
	}
	interval := dlo.Kind() == types.KindInterval
	if frac == 0 {
		return contResult(lo, interval), nil
	}
	dhi, ok, err := fc.Sorter.GetDatum(storage.Forward)
	if err != nil || !ok {
		return types.Datum{}, errors.Trace(err)
	}
	hi, err := dhi.AsFloat64()
	if err != nil {
		return types.Datum{}, errors.Trace(err)
	}
	return contResult(lo+frac*(hi-lo), interval), nil
}

// contResult keeps interval inputs interval-typed; everything else comes
// back as float8.
func contResult(v float64, interval bool) types.Datum {
	if interval {
		return types.NewIntervalDatum(time.Duration(int64(math.Round(v))) * time.Microsecond)
	}
	return types.NewFloat64Datum(v)
}

// finalMode returns the most frequent input value; ties go to the one
// sorting first.
func finalMode(fc *FinalContext) (types.Datum, error) {
	if fc.N == 0 {
		return types.Datum{}, nil
	}
	fc.Sorter.Rescan()
	var best, cur types.Datum
	bestN, curN := 0, 0
	for {
		d, ok, err := fc.Sorter.GetDatum(storage.Forward)
		if err != nil {
			return types.Datum{}, errors.Trace(err)
		}
		if !ok {
			break
		}
		if curN > 0 {
			c, err := d.Compare(cur)
			if err != nil {
				return types.Datum{}, errors.Trace(err)
			}
			if c == 0 {
				curN++
				continue
			}
		}
		if curN > bestN {
			best, bestN = cur, curN
		}
		cur, curN = d, 1
	}
	if curN > bestN {
		best, bestN = cur, curN
	}
	if bestN == 0 {
		return types.Datum{}, nil
	}
	return best, nil
}

// hypoStats are the counts a hypothetical-set finalizer works from.
type hypoStats struct {
	// less and equal count the real rows ordering before / tying with the
	// sentinel row; distinctLess counts distinct keys before it.
	less, equal, distinctLess int
	n                         int
}

func hypoRank(s hypoStats) types.Datum {
	return types.NewIntDatum(int64(s.less) + 1)
}

func hypoDenseRank(s hypoStats) types.Datum {
	return types.NewIntDatum(int64(s.distinctLess) + 1)
}

func hypoPercentRank(s hypoStats) types.Datum {
	if s.n == 0 {
		return types.NewFloat64Datum(0)
	}
	return types.NewFloat64Datum(float64(s.less) / float64(s.n))
}

func hypoCumeDist(s hypoStats) types.Datum {
	return types.NewFloat64Datum(float64(s.less+s.equal+1) / float64(s.n+1))
}

// compareKeys orders two sorted rows on the leading key columns.
func compareKeys(a, b *tuple.Tuple, keyCols int) (int, error) {
	for i := 0; i < keyCols; i++ {
		c, err := a.Values[i].Compare(b.Values[i])
		if err != nil {
			return 0, errors.Trace(err)
		}
		if c != 0 {
			return c, nil
		}
	}
	return 0, nil
}

// finalHypothetical sweeps the sorted input once, locating the sentinel row
// and counting the real rows around it.
func finalHypothetical(result func(hypoStats) types.Datum) func(fc *FinalContext) (types.Datum, error) {
	return func(fc *FinalContext) (types.Datum, error) {
		if fc.FlagCol < 0 {
			return types.Datum{}, errors.New("hypothetical-set aggregate without sentinel row")
		}
		fc.Sorter.Rescan()
		var sentinel *tuple.Tuple
		var rows []*tuple.Tuple
		for {
			t, err := fc.Sorter.Get(storage.Forward)
			if err != nil {
				return types.Datum{}, errors.Trace(err)
			}
			if t == nil {
				break
			}
			if t.Values[fc.FlagCol].GetInt64() != 0 {
				sentinel = t
				continue
			}
			rows = append(rows, t)
		}
		if sentinel == nil {
			return types.Datum{}, errors.New("hypothetical-set aggregate lost its sentinel row")
		}
		var s hypoStats
		s.n = len(rows)
		var prevLess *tuple.Tuple
		for _, t := range rows {
			c, err := compareKeys(t, sentinel, fc.KeyCols)
			if err != nil {
				return types.Datum{}, errors.Trace(err)
			}
			switch {
			case c < 0:
				s.less++
				if prevLess == nil {
					s.distinctLess++
				} else {
					pc, err := compareKeys(t, prevLess, fc.KeyCols)
					if err != nil {
						return types.Datum{}, errors.Trace(err)
					}
					if pc != 0 {
						s.distinctLess++
					}
				}
				prevLess = t
			case c == 0:
				s.equal++
			}
		}
		return result(s), nil
	}
}
