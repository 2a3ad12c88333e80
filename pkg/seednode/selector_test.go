package seednode

import (
	"fmt"
	"testing"
	"time"

	"github.com/cuemby/rollout/pkg/types"
	"github.com/juju/clock/testclock"
	"github.com/juju/collections/set"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// gridNodes creates count nodes laid out round-robin over fds x uds, node i in
// fault domain i%fds and upgrade domain i%uds
func gridNodes(count, fds, uds int) []types.NodeDescription {
	nodes := make([]types.NodeDescription, count)
	for i := range nodes {
		nodes[i] = types.NodeDescription{
			NodeName:      fmt.Sprintf("_nt1vm_%d", i),
			NodeTypeRef:   "nt1vm",
			IPAddress:     fmt.Sprintf("10.0.0.%d", i+4),
			FaultDomain:   fmt.Sprintf("fd:/%d", i%fds),
			UpgradeDomain: fmt.Sprintf("%d", i%uds),
		}
	}
	return nodes
}

func names(nodes []types.NodeDescription) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.NodeName
	}
	return out
}

func newTestSelector(clk *testclock.Clock) *Selector {
	return NewSelector(Config{Clock: clk, Timeout: time.Minute, Seed: 1})
}

func assertSpread(t *testing.T, nodes []types.NodeDescription) {
	t.Helper()
	fds := map[string]int{}
	uds := map[string]int{}
	for _, n := range nodes {
		fds[n.FaultDomain]++
		uds[n.UpgradeDomain]++
	}
	minFD, maxFD := len(nodes), 0
	for _, c := range fds {
		minFD, maxFD = min(minFD, c), max(maxFD, c)
	}
	minUD, maxUD := len(nodes), 0
	for _, c := range uds {
		minUD, maxUD = min(minUD, c), max(maxUD, c)
	}
	assert.LessOrEqual(t, maxFD-minFD, 1, "fault domains unbalanced: %v", fds)
	assert.LessOrEqual(t, maxUD-minUD, 1, "upgrade domains unbalanced: %v", uds)
}

func TestSelectNotEnoughCandidates(t *testing.T) {
	s := newTestSelector(testclock.NewClock(epoch))
	assert.Nil(t, s.Select(types.ReliabilitySilver, 5, gridNodes(4, 5, 5), 5, 5, false))
	assert.Nil(t, s.Select(types.ReliabilityLevel("unknown"), 5, gridNodes(5, 5, 5), 5, 5, false))
}

func TestSelectAllWhenExactlyEnough(t *testing.T) {
	s := newTestSelector(testclock.NewClock(epoch))
	nodes := gridNodes(3, 1, 1)
	selected := s.Select(types.ReliabilityBronze, 3, nodes, 1, 1, false)
	assert.ElementsMatch(t, names(nodes), names(selected))
}

func TestSelectVMSSUsesLowestInstanceIndex(t *testing.T) {
	s := newTestSelector(testclock.NewClock(epoch))
	nodes := gridNodes(12, 5, 5)
	selected := s.Select(types.ReliabilityBronze, 12, nodes, 5, 5, true)
	assert.Equal(t, []string{"_nt1vm_0", "_nt1vm_1", "_nt1vm_2"}, names(selected))
}

func TestSelectBalancesDomains(t *testing.T) {
	s := newTestSelector(testclock.NewClock(epoch))
	nodes := gridNodes(10, 5, 5)
	selected := s.Select(types.ReliabilitySilver, 10, nodes, 5, 5, false)
	require.Len(t, selected, 5)
	assertSpread(t, selected)
}

func TestSelectBalancesUnevenDomainGrid(t *testing.T) {
	for _, grid := range [][2]int{{3, 2}, {2, 3}, {5, 1}} {
		s := newTestSelector(testclock.NewClock(epoch))
		nodes := gridNodes(12, grid[0], grid[1])
		selected := s.Select(types.ReliabilitySilver, 12, nodes, grid[0], grid[1], false)
		require.Len(t, selected, 5, "grid %dx%d", grid[0], grid[1])
		assertSpread(t, selected)
	}
}

func TestSelectWaitsForExpectedNodes(t *testing.T) {
	clk := testclock.NewClock(epoch)
	s := newTestSelector(clk)
	nodes := gridNodes(6, 5, 5)

	assert.Nil(t, s.Select(types.ReliabilitySilver, 10, nodes, 5, 5, false), "still waiting for nodes")

	clk.Advance(30 * time.Second)
	assert.Nil(t, s.Select(types.ReliabilitySilver, 10, nodes, 5, 5, false), "deadline not reached")

	clk.Advance(31 * time.Second)
	selected := s.Select(types.ReliabilitySilver, 10, nodes, 5, 5, false)
	require.Len(t, selected, 5)
	assertSpread(t, selected)
}

func TestSelectIsStableWithoutNewNodes(t *testing.T) {
	s := newTestSelector(testclock.NewClock(epoch))
	nodes := gridNodes(10, 5, 5)
	first := s.Select(types.ReliabilitySilver, 10, nodes, 5, 5, false)
	require.Len(t, first, 5)

	// Same candidates in another order reuse the previous selection.
	reversed := make([]types.NodeDescription, len(nodes))
	for i, n := range nodes {
		reversed[len(nodes)-1-i] = n
	}
	second := s.Select(types.ReliabilitySilver, 10, reversed, 5, 5, false)
	assert.Equal(t, names(first), names(second))
}

func TestTryUpdateAddsSeedsKeepingExisting(t *testing.T) {
	s := newTestSelector(testclock.NewClock(epoch))
	nodes := gridNodes(10, 5, 5)
	existing := []string{"_nt1vm_0", "_nt1vm_1", "_nt1vm_2"}

	added, removed, ok := s.TryUpdate(types.ReliabilitySilver, existing, nodes)
	require.True(t, ok)
	assert.Empty(t, removed)
	require.Len(t, added, 2)

	final := set.NewStrings(existing...).Union(set.NewStrings(added...))
	assert.Equal(t, 5, final.Size())
	var selected []types.NodeDescription
	for _, n := range nodes {
		if final.Contains(n.NodeName) {
			selected = append(selected, n)
		}
	}
	assertSpread(t, selected)
}

func TestTryUpdateRemovesSeeds(t *testing.T) {
	s := newTestSelector(testclock.NewClock(epoch))
	nodes := gridNodes(10, 5, 5)
	existing := []string{"_nt1vm_0", "_nt1vm_1", "_nt1vm_2", "_nt1vm_3", "_nt1vm_4"}

	added, removed, ok := s.TryUpdate(types.ReliabilityBronze, existing, nodes)
	require.True(t, ok)
	assert.Empty(t, added)
	assert.Len(t, removed, 2)
	assert.Subset(t, existing, removed)
}

func TestTryUpdateReplacesIneligibleSeed(t *testing.T) {
	s := newTestSelector(testclock.NewClock(epoch))
	nodes := gridNodes(6, 3, 3)
	existing := []string{"_nt1vm_0", "_nt1vm_1", "_nt1vm_2"}

	// _nt1vm_1 is disabled and no longer a candidate.
	var candidates []types.NodeDescription
	for _, n := range nodes {
		if n.NodeName != "_nt1vm_1" {
			candidates = append(candidates, n)
		}
	}

	added, removed, ok := s.TryUpdate(types.ReliabilityBronze, existing, candidates)
	require.True(t, ok)
	assert.Equal(t, []string{"_nt1vm_1"}, removed)
	require.Len(t, added, 1)
	assert.NotContains(t, existing, added[0])
}

func TestTryUpdateNoChange(t *testing.T) {
	s := newTestSelector(testclock.NewClock(epoch))
	nodes := gridNodes(5, 5, 5)
	added, removed, ok := s.TryUpdate(types.ReliabilityBronze, []string{"_nt1vm_0", "_nt1vm_2", "_nt1vm_4"}, nodes)
	assert.True(t, ok)
	assert.Empty(t, added)
	assert.Empty(t, removed)
}

func TestTryUpdateInsufficientNodes(t *testing.T) {
	s := newTestSelector(testclock.NewClock(epoch))
	nodes := gridNodes(4, 3, 3)
	added, removed, ok := s.TryUpdate(types.ReliabilitySilver, []string{"_nt1vm_0"}, nodes)
	assert.False(t, ok)
	assert.Nil(t, added)
	assert.Nil(t, removed)
}

func TestTimeoutHelper(t *testing.T) {
	clk := testclock.NewClock(epoch)
	h := NewTimeoutHelper(clk, time.Minute)
	assert.False(t, h.Elapsed())
	assert.Equal(t, time.Minute, h.Remaining())

	clk.Advance(time.Minute)
	assert.True(t, h.Elapsed())
	assert.Equal(t, time.Duration(0), h.Remaining())
}
