package statestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"smartherbridge/internal/smarther"
)

// Snapshot file names within the config directory.
const (
	authFile          = "tokens.json"
	topologyFile      = "plant_topology.json"
	subscriptionsFile = "subscriptions.json"
	configurationFile = "configuration.json"
)

// filePermissions is the permission mode for snapshot files. Tokens live
// here, so owner read/write only.
const filePermissions = 0600

// Paths resolves the snapshot file locations for one bridge instance.
type Paths struct {
	Dir string
}

// DefaultPaths returns the snapshot locations, honouring the
// SMARTHER_CONFIG_DIR environment variable and falling back to the current
// working directory.
func DefaultPaths() Paths {
	if dir := os.Getenv("SMARTHER_CONFIG_DIR"); dir != "" {
		return Paths{Dir: dir}
	}
	cwd, err := os.Getwd()
	if err != nil {
		return Paths{Dir: "."}
	}
	return Paths{Dir: cwd}
}

// Configuration returns the path of the configuration snapshot.
func (p Paths) Configuration() string { return filepath.Join(p.Dir, configurationFile) }

// Store reads and writes the JSON state snapshots (authorization, plant
// topology, active subscriptions).
//
// Writes are atomic: data goes to a temp file first and is renamed into
// place, so a crash mid-write leaves the previous committed snapshot
// intact, never a half-written file.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Store struct {
	paths Paths
	mu    sync.Mutex
}

// New creates a Store over the given snapshot locations.
func New(paths Paths) *Store {
	return &Store{paths: paths}
}

// LoadAuth reads the authorization snapshot and normalizes its expiry.
func (s *Store) LoadAuth() (smarther.AuthorizationInfo, error) {
	var auth smarther.AuthorizationInfo
	if err := s.read(authFile, &auth); err != nil {
		return smarther.AuthorizationInfo{}, err
	}
	auth.NormalizeExpiry()
	return auth, nil
}

// SaveAuth persists a refreshed credential. Called by the token manager
// before the in-memory credential is swapped, so the durable snapshot is
// never newer than memory.
func (s *Store) SaveAuth(auth smarther.AuthorizationInfo) error {
	return s.write(authFile, auth)
}

// LoadTopology reads the cached plant topology snapshot.
func (s *Store) LoadTopology() (smarther.CachedTopology, error) {
	var topo smarther.CachedTopology
	if err := s.read(topologyFile, &topo); err != nil {
		return smarther.CachedTopology{}, err
	}
	return topo, nil
}

// LoadSubscriptions reads the persisted active-subscription set.
//
// A missing file surfaces as fs.ErrNotExist via errors.Is so the webhook
// manager can distinguish "no snapshot" from "snapshot unreadable".
func (s *Store) LoadSubscriptions() ([]smarther.SubscriptionInfo, error) {
	var subs []smarther.SubscriptionInfo
	if err := s.read(subscriptionsFile, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// SaveSubscriptions persists the active-subscription set. Written after
// every registration pass and after teardown, so what is on disk is always
// the set the operator may still need to clean up.
func (s *Store) SaveSubscriptions(subs []smarther.SubscriptionInfo) error {
	if subs == nil {
		subs = []smarther.SubscriptionInfo{}
	}
	return s.write(subscriptionsFile, subs)
}

// read loads and decodes one snapshot file.
func (s *Store) read(name string, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.paths.Dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	return nil
}

// write encodes and atomically replaces one snapshot file.
func (s *Store) write(name string, in any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}

	path := filepath.Join(s.paths.Dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), filePermissions); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing %s: %w", name, err)
	}
	return nil
}
