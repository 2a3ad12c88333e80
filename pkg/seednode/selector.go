package seednode

import (
	"sort"
	"time"

	"github.com/cuemby/rollout/pkg/log"
	"github.com/cuemby/rollout/pkg/matrix"
	"github.com/cuemby/rollout/pkg/metrics"
	"github.com/cuemby/rollout/pkg/types"
	"github.com/juju/clock"
	"github.com/juju/collections/set"
	"github.com/rs/zerolog"
)

// DefaultSelectionTimeout is how long Select waits for the expected primary
// nodes to show up before selecting from the ones that did
const DefaultSelectionTimeout = 5 * time.Minute

// TimeoutHelper tracks a deadline on an injectable clock
type TimeoutHelper struct {
	clock    clock.Clock
	deadline time.Time
}

// NewTimeoutHelper starts a deadline timeout from now
func NewTimeoutHelper(clk clock.Clock, timeout time.Duration) *TimeoutHelper {
	return &TimeoutHelper{
		clock:    clk,
		deadline: clk.Now().Add(timeout),
	}
}

// Elapsed reports whether the deadline has passed
func (t *TimeoutHelper) Elapsed() bool {
	return !t.clock.Now().Before(t.deadline)
}

// Remaining returns the time left before the deadline, never negative
func (t *TimeoutHelper) Remaining() time.Duration {
	if d := t.deadline.Sub(t.clock.Now()); d > 0 {
		return d
	}
	return 0
}

// Config holds configuration for creating a Selector
type Config struct {
	Clock   clock.Clock
	Timeout time.Duration
	Seed    int64
	Logger  *zerolog.Logger
}

// Selector chooses and maintains the voting seed node set of one cluster
type Selector struct {
	clock   clock.Clock
	timeout time.Duration
	exact   *matrix.IterativeSearch
	random  *matrix.RandomSearch
	logger  zerolog.Logger

	waiting        *TimeoutHelper
	lastCandidates set.Strings
	lastSelection  []types.NodeDescription
}

// NewSelector creates a new seed node selector
func NewSelector(cfg Config) *Selector {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultSelectionTimeout
	}
	logger := log.WithComponent("seednode")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Selector{
		clock:   clk,
		timeout: timeout,
		exact:   matrix.NewIterativeSearch(),
		random:  matrix.NewRandomSearch(cfg.Seed),
		logger:  logger,
	}
}

// Select returns the seed nodes for a new cluster, or nil when they cannot be
// chosen yet. Candidates are the primary node type nodes seen so far.
func (s *Selector) Select(
	level types.ReliabilityLevel,
	totalExpectedPrimaryNodeCount int,
	candidates []types.NodeDescription,
	faultDomainCount, upgradeDomainCount int,
	isVMSS bool,
) []types.NodeDescription {
	seedCount := level.GetSeedNodeCount()
	if seedCount == 0 || len(candidates) < seedCount {
		s.logger.Info().
			Str("reliability", string(level)).
			Int("candidates", len(candidates)).
			Int("required", seedCount).
			Msg("Not enough candidate nodes to select seed nodes")
		return nil
	}

	sorted := append([]types.NodeDescription(nil), candidates...)
	types.SortNodeDescriptions(sorted)

	if len(sorted) == seedCount && totalExpectedPrimaryNodeCount <= len(sorted) {
		return sorted
	}

	if isVMSS {
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].InstanceIndex() < sorted[j].InstanceIndex()
		})
		return sorted[:seedCount]
	}

	if len(sorted) < totalExpectedPrimaryNodeCount {
		if s.waiting == nil {
			s.waiting = NewTimeoutHelper(s.clock, s.timeout)
		}
		if !s.waiting.Elapsed() {
			s.logger.Info().
				Int("candidates", len(sorted)).
				Int("expected", totalExpectedPrimaryNodeCount).
				Dur("remaining", s.waiting.Remaining()).
				Msg("Waiting for more nodes before selecting seed nodes")
			return nil
		}
	}

	names := set.NewStrings()
	for _, n := range sorted {
		names.Add(n.NodeName)
	}
	if s.lastSelection != nil && names.Difference(s.lastCandidates).IsEmpty() && s.selectionStillValid(names, seedCount) {
		return append([]types.NodeDescription(nil), s.lastSelection...)
	}

	s.warnMissingDomains(sorted, faultDomainCount, upgradeDomainCount)

	selection := s.balance(sorted, seedCount, nil)
	if selection == nil {
		return nil
	}
	s.lastCandidates = names
	s.lastSelection = selection
	return append([]types.NodeDescription(nil), selection...)
}

func (s *Selector) selectionStillValid(names set.Strings, seedCount int) bool {
	if len(s.lastSelection) != seedCount {
		return false
	}
	for _, n := range s.lastSelection {
		if !names.Contains(n.NodeName) {
			return false
		}
	}
	return true
}

// TryUpdate reconciles existing seed nodes with the seed count of level. Existing
// seeds that are no longer candidates are replaced. It returns the nodes to add and
// remove, and false when the target count cannot be reached with the candidates.
func (s *Selector) TryUpdate(
	level types.ReliabilityLevel,
	existingSeeds []string,
	candidates []types.NodeDescription,
) (added, removed []string, ok bool) {
	target := level.GetSeedNodeCount()
	if target == 0 {
		return nil, nil, false
	}

	byName := make(map[string]types.NodeDescription, len(candidates))
	for _, n := range candidates {
		byName[n.NodeName] = n
	}

	var kept []types.NodeDescription
	for _, name := range existingSeeds {
		if n, found := byName[name]; found {
			kept = append(kept, n)
		} else {
			removed = append(removed, name)
		}
	}
	types.SortNodeDescriptions(kept)

	switch {
	case len(kept) < target:
		extra := s.AddSeedNodes(kept, candidates, target-len(kept))
		if extra == nil {
			s.logger.Warn().
				Str("reliability", string(level)).
				Int("candidates", len(candidates)).
				Int("required", target).
				Msg("Not enough eligible nodes to reach the seed node count")
			return nil, nil, false
		}
		for _, n := range extra {
			added = append(added, n.NodeName)
		}
	case len(kept) > target:
		for _, n := range s.RemoveSeedNodes(kept, len(kept)-target) {
			removed = append(removed, n.NodeName)
		}
	}

	sort.Strings(added)
	sort.Strings(removed)
	return added, removed, true
}

// AddSeedNodes returns count nodes from candidates that best balance the seed set
// together with the existing seeds, or nil when there are not enough candidates
func (s *Selector) AddSeedNodes(existing, candidates []types.NodeDescription, count int) []types.NodeDescription {
	if count <= 0 {
		return []types.NodeDescription{}
	}

	pinned := set.NewStrings()
	all := make([]types.NodeDescription, 0, len(existing)+len(candidates))
	for _, n := range existing {
		pinned.Add(n.NodeName)
		all = append(all, n)
	}
	for _, n := range candidates {
		if !pinned.Contains(n.NodeName) {
			all = append(all, n)
		}
	}
	if len(all) < len(existing)+count {
		return nil
	}

	selection := s.balance(all, len(existing)+count, pinned)
	if selection == nil {
		return nil
	}
	var out []types.NodeDescription
	for _, n := range selection {
		if !pinned.Contains(n.NodeName) {
			out = append(out, n)
		}
	}
	return out
}

// RemoveSeedNodes returns count nodes from existing whose removal keeps the
// remaining seed set balanced
func (s *Selector) RemoveSeedNodes(existing []types.NodeDescription, count int) []types.NodeDescription {
	if count <= 0 {
		return nil
	}
	if count >= len(existing) {
		return append([]types.NodeDescription(nil), existing...)
	}

	keep := s.balance(existing, len(existing)-count, nil)
	if keep == nil {
		// Balance is best effort when shrinking: drop from the end.
		sorted := append([]types.NodeDescription(nil), existing...)
		types.SortNodeDescriptions(sorted)
		return sorted[len(sorted)-count:]
	}
	kept := set.NewStrings()
	for _, n := range keep {
		kept.Add(n.NodeName)
	}
	var out []types.NodeDescription
	for _, n := range existing {
		if !kept.Contains(n.NodeName) {
			out = append(out, n)
		}
	}
	return out
}

// balance picks count nodes spread over the fault x upgrade domain matrix. Pinned
// nodes are always part of the result.
func (s *Selector) balance(nodes []types.NodeDescription, count int, pinned set.Strings) []types.NodeDescription {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SeedSelectionDuration)

	fds, uds := domains(nodes)
	cells := make([][][]types.NodeDescription, len(fds))
	data := make([][]int, len(fds))
	minimum := make([][]int, len(fds))
	for i := 0; i < len(fds); i++ {
		cells[i] = make([][]types.NodeDescription, len(uds))
		data[i] = make([]int, len(uds))
		minimum[i] = make([]int, len(uds))
	}

	for _, n := range nodes {
		i, j := fds[n.FaultDomain], uds[n.UpgradeDomain]
		cells[i][j] = append(cells[i][j], n)
		data[i][j]++
		if pinned != nil && pinned.Contains(n.NodeName) {
			minimum[i][j]++
		}
	}

	result := s.exact.RunWithMinimum(data, minimum, count)
	if result == nil {
		result = s.random.Run(data, minimum, count, true)
		if result == nil {
			return nil
		}
		s.logger.Warn().
			Int("seeds", count).
			Int("fault_domains", len(fds)).
			Int("upgrade_domains", len(uds)).
			Bool("balanced", matrix.IsBalanced(result, count)).
			Msg("Exact seed node balance infeasible, using randomized placement")
	}

	var selection []types.NodeDescription
	for i := range cells {
		for j := range cells[i] {
			cell := cells[i][j]
			sort.SliceStable(cell, func(a, b int) bool {
				pa := pinned != nil && pinned.Contains(cell[a].NodeName)
				pb := pinned != nil && pinned.Contains(cell[b].NodeName)
				if pa != pb {
					return pa
				}
				return cell[a].NodeName < cell[b].NodeName
			})
			selection = append(selection, cell[:result[i][j]]...)
		}
	}
	types.SortNodeDescriptions(selection)
	return selection
}

func (s *Selector) warnMissingDomains(nodes []types.NodeDescription, faultDomainCount, upgradeDomainCount int) {
	fds, uds := domains(nodes)
	if len(fds) < faultDomainCount || len(uds) < upgradeDomainCount {
		s.logger.Warn().
			Int("fault_domains", len(fds)).
			Int("expected_fault_domains", faultDomainCount).
			Int("upgrade_domains", len(uds)).
			Int("expected_upgrade_domains", upgradeDomainCount).
			Msg("Candidate nodes do not cover every domain")
	}
}

// domains indexes the distinct fault and upgrade domains in sorted order
func domains(nodes []types.NodeDescription) (map[string]int, map[string]int) {
	fdSet, udSet := set.NewStrings(), set.NewStrings()
	for _, n := range nodes {
		fdSet.Add(n.FaultDomain)
		udSet.Add(n.UpgradeDomain)
	}
	fds := make(map[string]int, fdSet.Size())
	for i, fd := range fdSet.SortedValues() {
		fds[fd] = i
	}
	uds := make(map[string]int, udSet.Size())
	for i, ud := range udSet.SortedValues() {
		uds[ud] = i
	}
	return fds, uds
}
