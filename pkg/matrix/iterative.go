package matrix

// Range is the admissible allocation [Low, High] of a single cell
type Range struct {
	Low  int
	High int
}

// Fixed reports whether the range admits a single value
func (r Range) Fixed() bool {
	return r.Low == r.High
}

// DefaultMaxSteps bounds the number of branch attempts of an IterativeSearch
const DefaultMaxSteps = 200000

// IterativeSearch finds an exactly balanced allocation by constraint propagation
// and depth-first search with backtracking.
//
// Every row sum of the result is floor(T/R) or ceil(T/R), every column sum is
// floor(T/C) or ceil(T/C), the total is T and every cell stays within
// [minimum, data].
type IterativeSearch struct {
	MaxSteps int
}

// NewIterativeSearch creates a search with the default step budget
func NewIterativeSearch() *IterativeSearch {
	return &IterativeSearch{MaxSteps: DefaultMaxSteps}
}

// Run returns a balanced allocation of target units over data, or nil when none exists
func (s *IterativeSearch) Run(data [][]int, target int) [][]int {
	return s.RunWithMinimum(data, nil, target)
}

// RunWithMinimum is Run with a per-cell lower bound. A nil minimum means zero.
func (s *IterativeSearch) RunWithMinimum(data, minimum [][]int, target int) [][]int {
	p, ok := newProblem(data, minimum, target)
	if !ok {
		return nil
	}
	if !p.refresh() {
		return nil
	}

	maxSteps := s.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	var stack []*decision
	steps := 0
	for {
		row, col, found := p.nextFreeCell()
		if !found {
			if p.verify() {
				return p.result()
			}
		} else {
			r := p.ranges[row][col]
			stack = append(stack, &decision{
				row:   row,
				col:   col,
				saved: p.snapshot(),
				next:  r.High,
				low:   r.Low,
			})
		}

		// Advance the deepest decision that still has untried values.
		for {
			if len(stack) == 0 {
				return nil
			}
			d := stack[len(stack)-1]
			if d.next < d.low {
				stack = stack[:len(stack)-1]
				continue
			}
			steps++
			if steps > maxSteps {
				return nil
			}
			p.restore(d.saved)
			p.ranges[d.row][d.col] = Range{Low: d.next, High: d.next}
			d.next--
			if p.refresh() {
				break
			}
		}
	}
}

// decision is a branching point of the search
type decision struct {
	row, col int
	saved    [][]Range
	next     int
	low      int
}

// problem holds the per-cell ranges and the row/column targets
type problem struct {
	rows, cols   int
	target       int
	rowLo, rowHi int
	colLo, colHi int
	ranges       [][]Range
}

func newProblem(data, minimum [][]int, target int) (*problem, bool) {
	rows := len(data)
	if rows == 0 || target < 0 {
		return nil, false
	}
	cols := len(data[0])
	if cols == 0 {
		return nil, false
	}
	if minimum != nil && len(minimum) != rows {
		return nil, false
	}

	p := &problem{
		rows:   rows,
		cols:   cols,
		target: target,
		rowLo:  target / rows,
		rowHi:  ceilDiv(target, rows),
		colLo:  target / cols,
		colHi:  ceilDiv(target, cols),
		ranges: make([][]Range, rows),
	}
	for i := range data {
		if len(data[i]) != cols {
			return nil, false
		}
		if minimum != nil && len(minimum[i]) != cols {
			return nil, false
		}
		p.ranges[i] = make([]Range, cols)
		for j := range data[i] {
			low := 0
			if minimum != nil {
				low = minimum[i][j]
			}
			if low < 0 || data[i][j] < low {
				return nil, false
			}
			p.ranges[i][j] = Range{Low: low, High: data[i][j]}
		}
	}
	return p, true
}

// refresh tightens every range against the row, column and total targets until
// nothing changes. It returns false when the problem became infeasible.
func (p *problem) refresh() bool {
	for {
		changed := false

		for i := 0; i < p.rows; i++ {
			ok, c := p.tighten(p.rowLo, p.rowHi, p.rowCells(i))
			if !ok {
				return false
			}
			changed = changed || c
		}
		for j := 0; j < p.cols; j++ {
			ok, c := p.tighten(p.colLo, p.colHi, p.colCells(j))
			if !ok {
				return false
			}
			changed = changed || c
		}
		ok, c := p.tighten(p.target, p.target, p.allCells())
		if !ok {
			return false
		}
		changed = changed || c

		if !changed {
			return true
		}
	}
}

type cell struct{ row, col int }

// tighten bounds each cell of a line so that the line sum can still land in [lo, hi]
func (p *problem) tighten(lo, hi int, cells []cell) (bool, bool) {
	sumLow, sumHigh := 0, 0
	for _, c := range cells {
		r := p.ranges[c.row][c.col]
		sumLow += r.Low
		sumHigh += r.High
	}
	if sumHigh < lo || sumLow > hi {
		return false, false
	}

	changed := false
	for _, c := range cells {
		r := p.ranges[c.row][c.col]
		newLow := maxInt(r.Low, lo-(sumHigh-r.High))
		newHigh := minInt(r.High, hi-(sumLow-r.Low))
		if newLow > newHigh {
			return false, false
		}
		if newLow != r.Low || newHigh != r.High {
			sumLow += newLow - r.Low
			sumHigh += newHigh - r.High
			p.ranges[c.row][c.col] = Range{Low: newLow, High: newHigh}
			changed = true
		}
	}
	return true, changed
}

func (p *problem) rowCells(i int) []cell {
	cells := make([]cell, p.cols)
	for j := range cells {
		cells[j] = cell{i, j}
	}
	return cells
}

func (p *problem) colCells(j int) []cell {
	cells := make([]cell, p.rows)
	for i := range cells {
		cells[i] = cell{i, j}
	}
	return cells
}

func (p *problem) allCells() []cell {
	cells := make([]cell, 0, p.rows*p.cols)
	for i := 0; i < p.rows; i++ {
		for j := 0; j < p.cols; j++ {
			cells = append(cells, cell{i, j})
		}
	}
	return cells
}

// nextFreeCell returns the unfixed cell with the narrowest range
func (p *problem) nextFreeCell() (int, int, bool) {
	bestRow, bestCol, bestWidth := -1, -1, 0
	for i := 0; i < p.rows; i++ {
		for j := 0; j < p.cols; j++ {
			r := p.ranges[i][j]
			width := r.High - r.Low
			if width > 0 && (bestRow < 0 || width < bestWidth) {
				bestRow, bestCol, bestWidth = i, j, width
			}
		}
	}
	return bestRow, bestCol, bestRow >= 0
}

func (p *problem) verify() bool {
	total := 0
	colSums := make([]int, p.cols)
	for i := 0; i < p.rows; i++ {
		rowSum := 0
		for j := 0; j < p.cols; j++ {
			r := p.ranges[i][j]
			if !r.Fixed() {
				return false
			}
			rowSum += r.Low
			colSums[j] += r.Low
		}
		if rowSum < p.rowLo || rowSum > p.rowHi {
			return false
		}
		total += rowSum
	}
	for _, sum := range colSums {
		if sum < p.colLo || sum > p.colHi {
			return false
		}
	}
	return total == p.target
}

func (p *problem) result() [][]int {
	out := make([][]int, p.rows)
	for i := range out {
		out[i] = make([]int, p.cols)
		for j := range out[i] {
			out[i][j] = p.ranges[i][j].Low
		}
	}
	return out
}

func (p *problem) snapshot() [][]Range {
	out := make([][]Range, p.rows)
	for i := range out {
		out[i] = append([]Range(nil), p.ranges[i]...)
	}
	return out
}

func (p *problem) restore(saved [][]Range) {
	for i := range saved {
		copy(p.ranges[i], saved[i])
	}
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
