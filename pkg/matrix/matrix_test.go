package matrix

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertValidAllocation checks the balance invariant and the per-cell bounds
func assertValidAllocation(t *testing.T, data, minimum, result [][]int, target int) {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result, len(data))

	rows, cols := len(data), len(data[0])
	total := 0
	colSums := make([]int, cols)
	for i := range result {
		rowSum := 0
		for j := range result[i] {
			low := 0
			if minimum != nil {
				low = minimum[i][j]
			}
			assert.GreaterOrEqual(t, result[i][j], low, "cell %d,%d below minimum", i, j)
			assert.LessOrEqual(t, result[i][j], data[i][j], "cell %d,%d above capacity", i, j)
			rowSum += result[i][j]
			colSums[j] += result[i][j]
		}
		assert.Contains(t, []int{target / rows, ceilDiv(target, rows)}, rowSum, "row %d", i)
		total += rowSum
	}
	for j, sum := range colSums {
		assert.Contains(t, []int{target / cols, ceilDiv(target, cols)}, sum, "column %d", j)
	}
	assert.Equal(t, target, total)
	assert.True(t, IsBalanced(result, target))
}

func TestIterativeSearchBalancesFeasibleInputs(t *testing.T) {
	tests := []struct {
		name   string
		data   [][]int
		target int
	}{
		{
			name:   "diagonal five by five",
			data:   [][]int{{1, 0, 0, 0, 0}, {0, 1, 0, 0, 0}, {0, 0, 1, 0, 0}, {0, 0, 0, 1, 0}, {0, 0, 0, 0, 1}},
			target: 5,
		},
		{
			name:   "dense three by three",
			data:   [][]int{{2, 2, 2}, {2, 2, 2}, {2, 2, 2}},
			target: 7,
		},
		{
			name:   "uneven capacities",
			data:   [][]int{{3, 0, 1}, {0, 2, 0}, {1, 1, 4}},
			target: 5,
		},
		{
			name:   "single row",
			data:   [][]int{{1, 1, 1, 1, 1, 1}},
			target: 3,
		},
		{
			name:   "zero target",
			data:   [][]int{{1, 1}, {1, 1}},
			target: 0,
		},
		{
			name:   "nine seeds over five domains",
			data:   [][]int{{2, 1, 1, 0, 0}, {0, 2, 1, 1, 0}, {0, 0, 2, 1, 1}, {1, 0, 0, 2, 1}, {1, 1, 0, 0, 2}},
			target: 9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NewIterativeSearch().Run(tt.data, tt.target)
			assertValidAllocation(t, tt.data, nil, result, tt.target)
		})
	}
}

func TestIterativeSearchRandomFeasibleGrids(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	search := NewIterativeSearch()
	for n := 0; n < 50; n++ {
		rows, cols := 1+rng.Intn(5), 1+rng.Intn(5)
		data := make([][]int, rows)
		for i := range data {
			data[i] = make([]int, cols)
			for j := range data[i] {
				data[i][j] = rng.Intn(3)
			}
		}
		target := 1 + rng.Intn(rows*cols)
		result := search.Run(data, target)
		if result == nil {
			continue
		}
		assertValidAllocation(t, data, nil, result, target)
	}
}

func TestIterativeSearchInfeasible(t *testing.T) {
	tests := []struct {
		name   string
		data   [][]int
		target int
	}{
		{
			name:   "every row below floor requirement",
			data:   [][]int{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
			target: 6,
		},
		{
			name:   "every column below floor requirement",
			data:   [][]int{{1, 1}, {0, 0}, {0, 0}, {0, 0}},
			target: 4,
		},
		{
			name:   "capacity concentrated in one row",
			data:   [][]int{{5, 5}, {0, 0}},
			target: 4,
		},
		{
			name:   "target above capacity",
			data:   [][]int{{1}},
			target: 2,
		},
		{
			name:   "ragged matrix",
			data:   [][]int{{1, 1}, {1}},
			target: 1,
		},
		{
			name:   "empty matrix",
			data:   [][]int{},
			target: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, NewIterativeSearch().Run(tt.data, tt.target))
		})
	}
}

func TestIterativeSearchRespectsMinimum(t *testing.T) {
	data := [][]int{{2, 1, 1}, {1, 2, 1}, {1, 1, 2}}
	minimum := [][]int{{1, 0, 0}, {0, 1, 0}, {0, 0, 0}}

	result := NewIterativeSearch().RunWithMinimum(data, minimum, 5)
	assertValidAllocation(t, data, minimum, result, 5)

	// A minimum that already breaks the row balance cannot be satisfied.
	tooMany := [][]int{{2, 1, 0}, {0, 0, 0}, {0, 0, 0}}
	assert.Nil(t, NewIterativeSearch().RunWithMinimum(data, tooMany, 3))
}

func TestIterativeSearchStepBudget(t *testing.T) {
	data := [][]int{{3, 3, 3}, {3, 3, 3}, {3, 3, 3}}
	search := &IterativeSearch{MaxSteps: 1}
	// One step is enough only when propagation alone fixes the first branch.
	result := search.Run(data, 9)
	if result != nil {
		assertValidAllocation(t, data, nil, result, 9)
	}
}

func TestRandomSearchFindsPerfectBalance(t *testing.T) {
	data := [][]int{{2, 2, 2}, {2, 2, 2}, {2, 2, 2}}
	result := NewRandomSearch(1).Run(data, nil, 7, false)
	assertValidAllocation(t, data, nil, result, 7)
}

func TestRandomSearchSuboptimal(t *testing.T) {
	// Capacity concentrated in one row: no balanced allocation exists.
	data := [][]int{{5, 5}, {1, 0}}
	target := 4

	assert.Nil(t, NewRandomSearch(3).Run(data, nil, target, false))

	result := NewRandomSearch(3).Run(data, nil, target, true)
	require.NotNil(t, result)
	total := 0
	for i := range result {
		for j := range result[i] {
			assert.LessOrEqual(t, result[i][j], data[i][j])
			total += result[i][j]
		}
	}
	assert.Equal(t, target, total)
	assert.Equal(t, 1, result[1][0], "the only spare cell of the short row is used")
}

func TestRandomSearchCapacity(t *testing.T) {
	assert.Nil(t, NewRandomSearch(1).Run([][]int{{1, 1}}, nil, 3, true))
	assert.Nil(t, NewRandomSearch(1).Run([][]int{{1, 1}}, [][]int{{2, 0}}, 1, true))
}

func TestRandomSearchKeepsMinimum(t *testing.T) {
	data := [][]int{{3, 1, 1}, {1, 3, 1}, {1, 1, 3}}
	minimum := [][]int{{2, 0, 0}, {0, 0, 0}, {0, 0, 0}}
	result := NewRandomSearch(11).Run(data, minimum, 6, true)
	require.NotNil(t, result)
	assert.GreaterOrEqual(t, result[0][0], 2)
}

func TestBucket(t *testing.T) {
	b := NewBucket(3)
	b.Add(0, 2)
	b.Add(1, 1)
	b.Add(2, 1)
	assert.Equal(t, 2, b.Spread())
	assert.Equal(t, 2, b.MinSpread())
	assert.Equal(t, 0, b.Imbalance())

	b.Add(2, -1)
	b.Add(0, 1)
	assert.Equal(t, 3, b.Count(0))
	assert.Greater(t, b.Imbalance(), 0)
}
