package manager

import (
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/rollout/pkg/cluster"
	"github.com/cuemby/rollout/pkg/events"
	"github.com/cuemby/rollout/pkg/log"
	"github.com/cuemby/rollout/pkg/manifest"
	"github.com/cuemby/rollout/pkg/seednode"
	"github.com/cuemby/rollout/pkg/storage"
	"github.com/cuemby/rollout/pkg/types"
	"github.com/cuemby/rollout/pkg/upgrade"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/rs/zerolog"
)

const (
	applyTimeout = 5 * time.Second

	// maxConflictRetries bounds how often Update rereads a cluster that was
	// replaced concurrently
	maxConflictRetries = 5
)

// Manager is a control plane node. It owns the replicated cluster store and
// runs every cluster operation through the state machine before committing
// the resulting snapshot through Raft.
type Manager struct {
	nodeID   string
	bindAddr string
	dataDir  string
	inMemory bool

	raft         *raft.Raft
	fsm          *RolloutFSM
	store        storage.Store
	tokenManager *TokenManager
	eventBroker  *events.Broker
	activator    *manifest.StandardActivator
	machine      *cluster.Machine
	clock        clock.Clock
	logger       zerolog.Logger
}

// Config holds configuration for creating a Manager
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string

	// InMemory keeps the Raft log, snapshots and transport in memory. The
	// cluster store still lives in DataDir.
	InMemory bool

	// Clock defaults to the wall clock
	Clock clock.Clock
	// SeedSearch seeds the randomized seed node search
	SeedSearch int64
}

// NewManager creates a new Manager instance
func NewManager(cfg *Config) (*Manager, error) {
	if cfg.NodeID == "" {
		return nil, errors.NotValidf("empty node ID")
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, errors.Annotate(err, "creating data directory")
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, errors.Annotate(err, "creating store")
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	logger := log.WithNodeID(cfg.NodeID)

	eventBroker := events.NewBroker()
	eventBroker.Start()

	activator := manifest.NewStandardActivator(seednode.Config{
		Clock: clk,
		Seed:  cfg.SeedSearch,
	})
	env := upgrade.NewEnv(activator)
	env.Clock = clk

	m := &Manager{
		nodeID:       cfg.NodeID,
		bindAddr:     cfg.BindAddr,
		dataDir:      cfg.DataDir,
		inMemory:     cfg.InMemory,
		fsm:          NewRolloutFSM(store),
		store:        store,
		tokenManager: NewTokenManager(clk),
		eventBroker:  eventBroker,
		activator:    activator,
		machine:      cluster.NewMachine(env, eventBroker),
		clock:        clk,
		logger:       logger,
	}

	return m, nil
}

func (m *Manager) raftConfig() *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(m.nodeID)

	// Control planes run on a LAN; fail over faster than the WAN defaults.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	if m.inMemory {
		config.LogOutput = io.Discard
	}
	return config
}

// startRaft creates the Raft instance and returns the transport address
func (m *Manager) startRaft() (raft.ServerAddress, error) {
	config := m.raftConfig()

	if m.inMemory {
		addr, transport := raft.NewInmemTransport(raft.ServerAddress(m.bindAddr))
		r, err := raft.NewRaft(config, m.fsm, raft.NewInmemStore(), raft.NewInmemStore(), raft.NewInmemSnapshotStore(), transport)
		if err != nil {
			return "", errors.Annotate(err, "creating raft")
		}
		m.raft = r
		return addr, nil
	}

	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return "", errors.Annotate(err, "resolving bind address")
	}

	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return "", errors.Annotate(err, "creating transport")
	}

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return "", errors.Annotate(err, "creating snapshot store")
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return "", errors.Annotate(err, "creating log store")
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		return "", errors.Annotate(err, "creating stable store")
	}

	r, err := raft.NewRaft(config, m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return "", errors.Annotate(err, "creating raft")
	}
	m.raft = r
	return transport.LocalAddr(), nil
}

// Bootstrap initializes a new single-node Raft cluster. Restarting a node
// whose state already holds a configuration is not an error.
func (m *Manager) Bootstrap() error {
	addr, err := m.startRaft()
	if err != nil {
		return err
	}

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{
				ID:      raft.ServerID(m.nodeID),
				Address: addr,
			},
		},
	}

	future := m.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil && err != raft.ErrCantBootstrap {
		return errors.Annotate(err, "bootstrapping cluster")
	}

	m.logger.Info().Str("address", string(addr)).Msg("Control plane bootstrapped")
	return nil
}

// Joiner asks the leader of an existing control plane to add a voter
type Joiner interface {
	JoinControlPlane(nodeID, address, token string) error
}

// Join starts Raft and asks the leader, through joiner, to add this node
func (m *Manager) Join(joiner Joiner, token string) error {
	addr, err := m.startRaft()
	if err != nil {
		return err
	}
	if err := joiner.JoinControlPlane(m.nodeID, string(addr), token); err != nil {
		return errors.Annotate(err, "joining control plane")
	}
	m.logger.Info().Str("address", string(addr)).Msg("Joined control plane")
	return nil
}

// AddVoter adds a new manager node to the Raft cluster
func (m *Manager) AddVoter(nodeID, address string) error {
	if !m.IsLeader() {
		return errors.Errorf("not the leader, current leader: %s", m.LeaderAddr())
	}
	future := m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return errors.Annotatef(err, "adding voter %s", nodeID)
	}
	return nil
}

// RemoveServer removes a server from the Raft cluster
func (m *Manager) RemoveServer(nodeID string) error {
	if !m.IsLeader() {
		return errors.Errorf("not the leader, current leader: %s", m.LeaderAddr())
	}
	future := m.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return errors.Annotatef(err, "removing server %s", nodeID)
	}
	return nil
}

// GetClusterServers returns the control plane members
func (m *Manager) GetClusterServers() ([]raft.Server, error) {
	future := m.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, errors.Annotate(err, "reading raft configuration")
	}
	return future.Configuration().Servers, nil
}

// GenerateJoinToken issues a token a new manager presents when joining
func (m *Manager) GenerateJoinToken(ttl time.Duration) (*JoinToken, error) {
	return m.tokenManager.GenerateToken(ttl)
}

// ValidateJoinToken checks a join token
func (m *Manager) ValidateJoinToken(token string) error {
	return m.tokenManager.ValidateToken(token)
}

// WaitForLeader blocks until this node knows a leader or the timeout expires
func (m *Manager) WaitForLeader(timeout time.Duration) error {
	deadline := time.After(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if m.LeaderAddr() != "" {
			return nil
		}
		select {
		case <-ticker.C:
		case <-deadline:
			return errors.Timeoutf("waiting for a leader")
		}
	}
}

// IsLeader returns whether this node is the Raft leader
func (m *Manager) IsLeader() bool {
	return m.raft != nil && m.raft.State() == raft.Leader
}

// LeaderAddr returns the address of the current leader
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	addr, _ := m.raft.LeaderWithID()
	return string(addr)
}

// RaftStats returns Raft statistics
func (m *Manager) RaftStats() map[string]string {
	if m.raft == nil {
		return nil
	}
	return m.raft.Stats()
}

// GetEventBroker returns the event broker
func (m *Manager) GetEventBroker() *events.Broker {
	return m.eventBroker
}

// Apply applies a command to the Raft cluster
func (m *Manager) Apply(cmd Command) error {
	if !m.IsLeader() {
		return errors.Errorf("not the leader, current leader: %s", m.LeaderAddr())
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return errors.Annotate(err, "encoding command")
	}

	future := m.raft.Apply(data, applyTimeout)
	if err := future.Error(); err != nil {
		return errors.Annotatef(err, "applying %s", cmd.Op)
	}

	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok {
			return err
		}
	}
	return nil
}

func (m *Manager) apply(op string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return errors.Trace(err)
	}
	return m.Apply(Command{Op: op, Data: raw})
}

// CreateCluster registers a cluster with its first targets and runs the state
// machine, which configures the baseline upgrade once nodes are known
func (m *Manager) CreateCluster(id string, user *types.UserConfig, admin *types.AdminConfig) (*cluster.Resource, error) {
	if id == "" {
		return nil, errors.NotValidf("empty cluster ID")
	}
	if _, err := m.store.GetCluster(id); err == nil {
		return nil, errors.AlreadyExistsf("cluster %s", id)
	}

	r := cluster.NewResource(id, user, admin, m.clock.Now())
	next, _, err := m.machine.RunStateMachine(r)
	if err != nil {
		return nil, err
	}
	if err := m.apply(OpCreateCluster, next); err != nil {
		return nil, err
	}
	m.recordManifest(nil, next)
	return next, nil
}

// DeleteCluster removes a cluster, its manifest history and its seed node
// selector
func (m *Manager) DeleteCluster(id string) error {
	if _, err := m.store.GetCluster(id); err != nil {
		return err
	}
	if err := m.apply(OpDeleteCluster, id); err != nil {
		return err
	}
	m.activator.Forget(id)
	m.eventBroker.Publish(events.NewEvent(events.EventClusterDeleted, id, "cluster deleted"))
	return nil
}

// Operation is one state machine operation on a cluster snapshot
type Operation func(r *cluster.Resource) (*cluster.Resource, bool, error)

// Update reads the cluster, runs op on the snapshot and commits the result
// with a version checked replace. A concurrent replace makes Update reread
// the cluster and run op again.
func (m *Manager) Update(id string, op Operation) (*cluster.Resource, error) {
	for attempt := 0; ; attempt++ {
		r, err := m.store.GetCluster(id)
		if err != nil {
			return nil, err
		}
		next, changed, err := op(r)
		if err != nil {
			return nil, err
		}
		if !changed {
			return r, nil
		}

		err = m.apply(OpPutCluster, next)
		if err == nil {
			next.Version++
			m.recordManifest(r, next)
			return next, nil
		}
		if !errors.Is(err, storage.ErrVersionConflict) || attempt >= maxConflictRetries {
			return nil, err
		}
		m.logger.Debug().Str("cluster_id", id).Int("attempt", attempt+1).Msg("Cluster replaced concurrently, retrying")
	}
}

// recordManifest stores the manifest of the current and pending state of next
// when it differs from the one of prev
func (m *Manager) recordManifest(prev, next *cluster.Resource) {
	for _, s := range manifestsOf(next) {
		if containsManifest(manifestsOf(prev), s) {
			continue
		}
		err := m.apply(OpPutManifest, &ManifestRecord{ClusterID: next.ID, Manifest: s})
		if err != nil {
			m.logger.Warn().Err(err).Str("cluster_id", next.ID).Str("manifest_version", s.Version).Msg("Failed to record manifest")
		}
	}
}

func manifestsOf(r *cluster.Resource) []*types.ClusterManifest {
	if r == nil {
		return nil
	}
	var out []*types.ClusterManifest
	if r.Current != nil && r.Current.ExternalState != nil && r.Current.ExternalState.ClusterManifest != nil {
		out = append(out, r.Current.ExternalState.ClusterManifest)
	}
	if r.Pending != nil && r.Pending.ExternalState != nil && r.Pending.ExternalState.ClusterManifest != nil {
		out = append(out, r.Pending.ExternalState.ClusterManifest)
	}
	return out
}

func containsManifest(list []*types.ClusterManifest, m *types.ClusterManifest) bool {
	for _, x := range list {
		if x.Version == m.Version {
			return true
		}
	}
	return false
}

// SetTargetUserConfig stages a new user configuration
func (m *Manager) SetTargetUserConfig(id string, user *types.UserConfig) (*cluster.Resource, error) {
	return m.Update(id, func(r *cluster.Resource) (*cluster.Resource, bool, error) {
		return m.machine.SetTargetUserConfig(r, user)
	})
}

// SetTargetAdminConfig stages a new admin configuration
func (m *Manager) SetTargetAdminConfig(id string, admin *types.AdminConfig) (*cluster.Resource, error) {
	return m.Update(id, func(r *cluster.Resource) (*cluster.Resource, bool, error) {
		return m.machine.SetTargetAdminConfig(r, admin)
	})
}

// UpdateNodesStatus merges node status reports
func (m *Manager) UpdateNodesStatus(id string, updates []types.NodeStatus) (*cluster.Resource, error) {
	return m.Update(id, func(r *cluster.Resource) (*cluster.Resource, bool, error) {
		return m.machine.UpdateNodesStatus(r, updates)
	})
}

// CompleteUpgrade reports that the cluster converged on its pending upgrade
func (m *Manager) CompleteUpgrade(id string) (*cluster.Resource, error) {
	return m.Update(id, m.machine.ClusterUpgradeCompleted)
}

// RollbackUpgrade reports that the pending upgrade failed or rolled back
func (m *Manager) RollbackUpgrade(id, reason string) (*cluster.Resource, error) {
	return m.Update(id, func(r *cluster.Resource) (*cluster.Resource, bool, error) {
		return m.machine.ClusterUpgradeRolledBackOrFailed(r, m.clock.Now(), reason)
	})
}

// ReportObservedVersion reports what the cluster actually runs
func (m *Manager) ReportObservedVersion(id string, observed *types.ExternalState) (*cluster.Resource, error) {
	return m.Update(id, func(r *cluster.Resource) (*cluster.Resource, bool, error) {
		return m.machine.ReportObservedVersion(r, observed)
	})
}

// RecordPoll counts a poll of the deployment orchestrator
func (m *Manager) RecordPoll(id string, progressed bool) (*cluster.Resource, error) {
	return m.Update(id, func(r *cluster.Resource) (*cluster.Resource, bool, error) {
		return m.machine.RecordUpgradeServicePoll(r, progressed)
	})
}

// RunStateMachine runs the state machine of a cluster without new input
func (m *Manager) RunStateMachine(id string) (*cluster.Resource, error) {
	return m.Update(id, m.machine.RunStateMachine)
}

func (m *Manager) GetCluster(id string) (*cluster.Resource, error) {
	return m.store.GetCluster(id)
}

func (m *Manager) ListClusters() ([]*cluster.Resource, error) {
	return m.store.ListClusters()
}

func (m *Manager) GetManifest(clusterID, version string) (*types.ClusterManifest, error) {
	return m.store.GetManifest(clusterID, version)
}

func (m *Manager) ListManifests(clusterID string) ([]*types.ClusterManifest, error) {
	return m.store.ListManifests(clusterID)
}

// ClusterPhases counts clusters per phase
func (m *Manager) ClusterPhases() (map[string]int, error) {
	clusters, err := m.store.ListClusters()
	if err != nil {
		return nil, err
	}
	phases := make(map[string]int)
	for _, r := range clusters {
		phases[string(r.Phase())]++
	}
	return phases, nil
}

// Shutdown gracefully shuts down the manager
func (m *Manager) Shutdown() error {
	m.eventBroker.Stop()

	if m.raft != nil {
		if err := m.raft.Shutdown().Error(); err != nil {
			return errors.Annotate(err, "shutting down raft")
		}
	}

	return m.store.Close()
}
