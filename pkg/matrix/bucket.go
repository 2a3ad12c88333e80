package matrix

// Bucket counts units per line (row or column) and measures their spread
type Bucket struct {
	counts []int
	total  int
}

// NewBucket creates a bucket with n lines
func NewBucket(n int) *Bucket {
	return &Bucket{counts: make([]int, n)}
}

// Add adds delta units to line i
func (b *Bucket) Add(i, delta int) {
	b.counts[i] += delta
	b.total += delta
}

// Count returns the units in line i
func (b *Bucket) Count(i int) int {
	return b.counts[i]
}

// Spread is the sum of |count_i - count_k| over all line pairs
func (b *Bucket) Spread() int {
	spread := 0
	for i := 0; i < len(b.counts); i++ {
		for k := i + 1; k < len(b.counts); k++ {
			d := b.counts[i] - b.counts[k]
			if d < 0 {
				d = -d
			}
			spread += d
		}
	}
	return spread
}

// MinSpread is the spread of a perfectly balanced distribution of the same total
func (b *Bucket) MinSpread() int {
	n := len(b.counts)
	if n == 0 {
		return 0
	}
	r := b.total % n
	return r * (n - r)
}

// Imbalance is Spread minus MinSpread. It is zero iff every line holds
// floor(total/n) or ceil(total/n) units.
func (b *Bucket) Imbalance() int {
	return b.Spread() - b.MinSpread()
}

// IsBalanced reports whether every row sum of m is floor or ceil of target/rows,
// every column sum is floor or ceil of target/cols and the total equals target
func IsBalanced(m [][]int, target int) bool {
	if len(m) == 0 || len(m[0]) == 0 {
		return false
	}
	rows, cols := len(m), len(m[0])
	rowSums := NewBucket(rows)
	colSums := NewBucket(cols)
	for i := range m {
		for j := range m[i] {
			rowSums.Add(i, m[i][j])
			colSums.Add(j, m[i][j])
		}
	}
	if rowSums.total != target {
		return false
	}
	return rowSums.Imbalance() == 0 && colSums.Imbalance() == 0
}
