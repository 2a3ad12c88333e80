package deploy

import (
	"sync"
	"time"

	"github.com/cuemby/rollout/pkg/types"
	"github.com/juju/clock"
	"github.com/juju/errors"
)

// Outcome is how far a cluster got towards a target manifest
type Outcome string

const (
	OutcomeInProgress Outcome = "in_progress"
	OutcomeConverged  Outcome = "converged"
	OutcomeFailed     Outcome = "failed"
)

// Report is the deployment status of one cluster as seen by the orchestrator
type Report struct {
	ManifestVersion string    `json:"manifestVersion"`
	Outcome         Outcome   `json:"outcome"`
	Reason          string    `json:"reason,omitempty"`
	DomainsDone     int       `json:"domainsDone"`
	At              time.Time `json:"at"`

	// ReplicaSetSizes holds the system service sizes the cluster runs with
	ReplicaSetSizes map[string]types.ReplicaSetSize `json:"replicaSetSizes,omitempty"`
}

// Observation answers one poll for a target manifest
type Observation struct {
	Outcome         Outcome
	Reason          string
	Progressed      bool
	ReplicaSetSizes map[string]types.ReplicaSetSize
}

// Observer tells the reconciler how a cluster is doing on a target manifest
type Observer interface {
	Observe(clusterID string, target *types.ExternalState) Observation
	// Observed returns what the cluster runs when nothing is being deployed
	Observed(clusterID string) (*types.ExternalState, bool)
}

type entry struct {
	report   Report
	polled   int
	observed *types.ExternalState
}

// Tracker is an in-memory Observer the orchestrator reports into
type Tracker struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]*entry
}

// NewTracker creates an empty tracker
func NewTracker(clk clock.Clock) *Tracker {
	return &Tracker{
		clock:   clk,
		entries: make(map[string]*entry),
	}
}

func (t *Tracker) entry(clusterID string) *entry {
	e, ok := t.entries[clusterID]
	if !ok {
		e = &entry{polled: -1}
		t.entries[clusterID] = e
	}
	return e
}

// Report records the deployment status of a cluster. Reports for an older
// manifest than the one already reported are ignored.
func (t *Tracker) Report(clusterID string, r Report) error {
	if r.ManifestVersion == "" {
		return errors.NotValidf("report without manifest version")
	}
	switch r.Outcome {
	case OutcomeInProgress, OutcomeConverged, OutcomeFailed:
	default:
		return errors.NotValidf("outcome %q", r.Outcome)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entry(clusterID)
	if e.report.ManifestVersion != r.ManifestVersion {
		if older(r.ManifestVersion, e.report.ManifestVersion) {
			return nil
		}
		e.polled = -1
	}
	if r.At.IsZero() {
		r.At = t.clock.Now()
	}
	e.report = r
	return nil
}

// ReportRunning records what a steady cluster actually runs
func (t *Tracker) ReportRunning(clusterID string, observed *types.ExternalState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entry(clusterID).observed = observed
}

// Forget drops everything known about a cluster
func (t *Tracker) Forget(clusterID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, clusterID)
}

// Observe implements Observer. A report for another manifest counts as no
// progress on target.
func (t *Tracker) Observe(clusterID string, target *types.ExternalState) Observation {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[clusterID]
	if !ok || target == nil || e.report.ManifestVersion != target.ManifestVersion() {
		return Observation{Outcome: OutcomeInProgress}
	}

	obs := Observation{
		Outcome:         e.report.Outcome,
		Reason:          e.report.Reason,
		ReplicaSetSizes: e.report.ReplicaSetSizes,
		Progressed:      e.report.DomainsDone > e.polled,
	}
	e.polled = e.report.DomainsDone
	return obs
}

// Observed implements Observer
func (t *Tracker) Observed(clusterID string) (*types.ExternalState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[clusterID]
	if !ok || e.observed == nil {
		return nil, false
	}
	return e.observed, true
}

// older compares numeric manifest versions; non-numeric versions never count
// as older
func older(a, b string) bool {
	if b == "" {
		return false
	}
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
