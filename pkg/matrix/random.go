package matrix

import (
	"math"
	"math/rand"
)

const (
	defaultInitialTemperature = 2.0
	defaultCoolingFactor      = 0.9
	defaultInnerIterations    = 150
	defaultOuterIterations    = 80
)

// RandomSearch balances an allocation by simulated annealing. It is the fallback
// when no exactly balanced allocation exists or the exact search ran out of budget.
type RandomSearch struct {
	Rand               *rand.Rand
	InitialTemperature float64
	CoolingFactor      float64
	InnerIterations    int
	OuterIterations    int
}

// NewRandomSearch creates an annealing search seeded with seed
func NewRandomSearch(seed int64) *RandomSearch {
	return &RandomSearch{
		Rand:               rand.New(rand.NewSource(seed)),
		InitialTemperature: defaultInitialTemperature,
		CoolingFactor:      defaultCoolingFactor,
		InnerIterations:    defaultInnerIterations,
		OuterIterations:    defaultOuterIterations,
	}
}

// Run allocates target units over data (respecting the optional minimum) while
// minimizing row and column imbalance. With allowSuboptimal false only a perfectly
// balanced allocation is returned; otherwise the best allocation found is.
// Run returns nil when data cannot hold target units.
func (s *RandomSearch) Run(data, minimum [][]int, target int, allowSuboptimal bool) [][]int {
	st, ok := s.initialState(data, minimum, target)
	if !ok {
		return nil
	}

	best := copyMatrix(st.result)
	bestCost := st.cost()
	temperature := s.InitialTemperature

	for outer := 0; outer < s.OuterIterations && bestCost > 0; outer++ {
		for inner := 0; inner < s.InnerIterations; inner++ {
			from, to, ok := s.pickMove(st)
			if !ok {
				break
			}
			before := st.cost()
			st.move(from, to)
			delta := st.cost() - before
			if delta > 0 && s.Rand.Float64() >= math.Exp(-float64(delta)/temperature) {
				st.move(to, from)
				continue
			}
			if c := st.cost(); c < bestCost {
				bestCost = c
				best = copyMatrix(st.result)
				if bestCost == 0 {
					break
				}
			}
		}
		temperature *= s.CoolingFactor
	}

	if bestCost > 0 && !allowSuboptimal {
		return nil
	}
	return best
}

// initialState places the minimum and then greedily fills the emptiest lines
func (s *RandomSearch) initialState(data, minimum [][]int, target int) (*annealState, bool) {
	rows := len(data)
	if rows == 0 || len(data[0]) == 0 || target < 0 {
		return nil, false
	}
	cols := len(data[0])

	st := &annealState{
		data:    data,
		minimum: make([][]int, rows),
		result:  make([][]int, rows),
		rowSums: NewBucket(rows),
		colSums: NewBucket(cols),
	}
	placed, capacity := 0, 0
	for i := 0; i < rows; i++ {
		if len(data[i]) != cols || (minimum != nil && len(minimum[i]) != cols) {
			return nil, false
		}
		st.minimum[i] = make([]int, cols)
		st.result[i] = make([]int, cols)
		for j := 0; j < cols; j++ {
			low := 0
			if minimum != nil {
				low = minimum[i][j]
			}
			if low < 0 || low > data[i][j] {
				return nil, false
			}
			st.minimum[i][j] = low
			st.result[i][j] = low
			st.rowSums.Add(i, low)
			st.colSums.Add(j, low)
			placed += low
			capacity += data[i][j] - low
		}
	}
	remaining := target - placed
	if remaining < 0 || remaining > capacity {
		return nil, false
	}

	for ; remaining > 0; remaining-- {
		bi, bj, bestScore := -1, -1, 0
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				if st.result[i][j] >= data[i][j] {
					continue
				}
				score := st.rowSums.Count(i) + st.colSums.Count(j)
				if bi < 0 || score < bestScore {
					bi, bj, bestScore = i, j, score
				}
			}
		}
		st.result[bi][bj]++
		st.rowSums.Add(bi, 1)
		st.colSums.Add(bj, 1)
	}
	return st, true
}

// pickMove chooses a random donor cell above its minimum and a random receiver
// cell below its capacity
func (s *RandomSearch) pickMove(st *annealState) (cell, cell, bool) {
	var donors, receivers []cell
	for i := range st.result {
		for j := range st.result[i] {
			if st.result[i][j] > st.minimum[i][j] {
				donors = append(donors, cell{i, j})
			}
			if st.result[i][j] < st.data[i][j] {
				receivers = append(receivers, cell{i, j})
			}
		}
	}
	if len(donors) == 0 || len(receivers) == 0 {
		return cell{}, cell{}, false
	}
	from := donors[s.Rand.Intn(len(donors))]
	to := receivers[s.Rand.Intn(len(receivers))]
	if from == to {
		if len(receivers) == 1 {
			return cell{}, cell{}, false
		}
		for to == from {
			to = receivers[s.Rand.Intn(len(receivers))]
		}
	}
	return from, to, true
}

type annealState struct {
	data    [][]int
	minimum [][]int
	result  [][]int
	rowSums *Bucket
	colSums *Bucket
}

func (st *annealState) move(from, to cell) {
	st.result[from.row][from.col]--
	st.rowSums.Add(from.row, -1)
	st.colSums.Add(from.col, -1)
	st.result[to.row][to.col]++
	st.rowSums.Add(to.row, 1)
	st.colSums.Add(to.col, 1)
}

// cost is zero iff both row and column sums are perfectly balanced
func (st *annealState) cost() int {
	return st.rowSums.Imbalance() + st.colSums.Imbalance()
}

func copyMatrix(m [][]int) [][]int {
	out := make([][]int, len(m))
	for i := range m {
		out[i] = append([]int(nil), m[i]...)
	}
	return out
}
