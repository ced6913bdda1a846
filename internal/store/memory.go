package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vinetrace/vine-ledger/internal/domain"
	"github.com/vinetrace/vine-ledger/internal/store/schema"
)

// memoryStore is an in-memory Store used by unit tests and local tooling.
// It enforces the same uniqueness and compare-and-swap semantics as the
// PostgreSQL store so engine tests exercise identical failure paths.
type memoryStore struct {
	mu     sync.RWMutex
	chains map[string]*schema.Chain
	nodes  map[string][]schema.Node        // chainID -> nodes ordered by sequence
	events map[string]schema.Event         // nodeID -> event
	fruit  map[string]schema.FruitReceived // fruitID -> batch
	hashes map[string]struct{}             // global node hash set
}

// NewMemoryStore creates a new in-memory store instance
func NewMemoryStore() Store {
	return &memoryStore{
		chains: make(map[string]*schema.Chain),
		nodes:  make(map[string][]schema.Node),
		events: make(map[string]schema.Event),
		fruit:  make(map[string]schema.FruitReceived),
		hashes: make(map[string]struct{}),
	}
}

func (s *memoryStore) activeChainLocked(blockID, season string) *schema.Chain {
	for _, c := range s.chains {
		if c.BlockID == blockID && c.Season == season && c.Active {
			return c
		}
	}
	return nil
}

func (s *memoryStore) createChainLocked(input CreateChainInput) error {
	chain := input.Chain
	if _, ok := s.chains[chain.ID]; ok {
		return domain.ErrChainConflict
	}
	if s.activeChainLocked(chain.BlockID, chain.Season) != nil {
		return domain.ErrChainConflict
	}
	if _, ok := s.hashes[input.Genesis.Hash]; ok {
		return domain.ErrChainConflict
	}

	if chain.CreatedAt.IsZero() {
		chain.CreatedAt = time.Now().UTC()
	}
	stored := chain
	s.chains[chain.ID] = &stored
	s.nodes[chain.ID] = []schema.Node{input.Genesis}
	s.hashes[input.Genesis.Hash] = struct{}{}
	return nil
}

// CreateChain persists a chain and its genesis node atomically
func (s *memoryStore) CreateChain(_ context.Context, input CreateChainInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createChainLocked(input)
}

// GetChain retrieves a chain by ID
func (s *memoryStore) GetChain(_ context.Context, chainID string) (*schema.Chain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain, ok := s.chains[chainID]
	if !ok {
		return nil, domain.ErrChainNotFound
	}
	out := *chain
	return &out, nil
}

// GetActiveChain retrieves the active chain for a (block, season) pair, nil when none
func (s *memoryStore) GetActiveChain(_ context.Context, blockID, season string) (*schema.Chain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.activeChainLocked(blockID, season)
	if chain == nil {
		return nil, nil
	}
	out := *chain
	return &out, nil
}

// GetLatestChainByBlock retrieves the most recent chain for a block, preferring an active one
func (s *memoryStore) GetLatestChainByBlock(_ context.Context, blockID string) (*schema.Chain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *schema.Chain
	for _, c := range s.chains {
		if c.BlockID != blockID {
			continue
		}
		if best == nil {
			best = c
			continue
		}
		if c.Active != best.Active {
			if c.Active {
				best = c
			}
			continue
		}
		if c.CreatedAt.After(best.CreatedAt) {
			best = c
		}
	}
	if best == nil {
		return nil, domain.ErrChainNotFound
	}
	out := *best
	return &out, nil
}

// ListActiveChains pages active chains ordered by creation time
func (s *memoryStore) ListActiveChains(_ context.Context, offset, limit int) ([]schema.Chain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []schema.Chain
	for _, c := range s.chains {
		if c.Active {
			active = append(active, *c)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})

	if offset >= len(active) {
		return nil, nil
	}
	active = active[offset:]
	if limit > 0 && len(active) > limit {
		active = active[:limit]
	}
	return active, nil
}

func (s *memoryStore) archiveChainLocked(input ArchiveChainInput) error {
	chain, ok := s.chains[input.ChainID]
	if !ok {
		return domain.ErrChainNotFound
	}
	if !chain.Active {
		return domain.ErrChainArchived
	}

	at := input.At
	actor := input.Actor
	reason := input.Reason
	chain.Active = false
	chain.ArchivedAt = &at
	chain.ArchivedBy = &actor
	chain.ArchiveReason = &reason
	return nil
}

// ArchiveChain marks a chain inactive and records archive metadata
func (s *memoryStore) ArchiveChain(_ context.Context, input ArchiveChainInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.archiveChainLocked(input)
}

// ReassignChain archives one chain and creates its successor atomically
func (s *memoryStore) ReassignChain(_ context.Context, input ReassignChainInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.archiveChainLocked(input.Archive); err != nil {
		return err
	}
	if err := s.createChainLocked(input.NewChain); err != nil {
		// Roll the archive back so the pair stays atomic.
		chain := s.chains[input.Archive.ChainID]
		chain.Active = true
		chain.ArchivedAt = nil
		chain.ArchivedBy = nil
		chain.ArchiveReason = nil
		return err
	}
	return nil
}

// AppendNode persists a node and its event and advances the chain head atomically
func (s *memoryStore) AppendNode(_ context.Context, input AppendNodeInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain, ok := s.chains[input.ChainID]
	if !ok {
		return domain.ErrChainNotFound
	}
	if !chain.Active {
		return domain.ErrChainArchived
	}
	if chain.CurrentHeadHash != input.ExpectedHead {
		return domain.ErrHeadConflict
	}
	if _, ok := s.hashes[input.Node.Hash]; ok {
		return domain.ErrHeadConflict
	}
	nodes := s.nodes[input.ChainID]
	if len(nodes) > 0 && nodes[len(nodes)-1].Sequence >= input.Node.Sequence {
		return domain.ErrHeadConflict
	}

	s.nodes[input.ChainID] = append(nodes, input.Node)
	s.events[input.Node.ID] = input.Event
	s.hashes[input.Node.Hash] = struct{}{}
	chain.CurrentHeadHash = input.Node.Hash
	return nil
}

// CountNodes returns the number of nodes in a chain
func (s *memoryStore) CountNodes(_ context.Context, chainID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.nodes[chainID])), nil
}

// GetNodeByHash retrieves a node of a chain by its hash
func (s *memoryStore) GetNodeByHash(_ context.Context, chainID, hash string) (*schema.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, n := range s.nodes[chainID] {
		if n.Hash == hash {
			out := n
			return &out, nil
		}
	}
	return nil, domain.ErrNodeNotFound
}

// ListNodes pages nodes ordered by sequence, starting after afterSequence
func (s *memoryStore) ListNodes(_ context.Context, chainID string, afterSequence int64, limit int) ([]schema.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return pageNodes(s.nodes[chainID], afterSequence, limit), nil
}

func pageNodes(nodes []schema.Node, afterSequence int64, limit int) []schema.Node {
	var out []schema.Node
	for _, n := range nodes {
		if n.Sequence <= afterSequence {
			continue
		}
		out = append(out, n)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// ListNodesWithEvents loads a chain's full node sequence with event snapshots attached
func (s *memoryStore) ListNodesWithEvents(_ context.Context, chainID string) ([]schema.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := s.nodes[chainID]
	out := make([]schema.Node, 0, len(nodes))
	for _, n := range nodes {
		if ev, ok := s.events[n.ID]; ok {
			stored := ev
			n.Event = &stored
		}
		out = append(out, n)
	}
	return out, nil
}

// LastNodeTime returns the confirmation time of a chain's newest node
func (s *memoryStore) LastNodeTime(_ context.Context, chainID string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := s.nodes[chainID]
	if len(nodes) == 0 {
		return nil, nil
	}
	t := nodes[len(nodes)-1].ConfirmedAt
	return &t, nil
}

// memoryChainSnapshot serves batches from a point-in-time copy
type memoryChainSnapshot struct {
	chain    *schema.Chain
	nodes    []schema.Node
	afterSeq int64
}

func (s *memoryChainSnapshot) Chain() *schema.Chain {
	return s.chain
}

func (s *memoryChainSnapshot) NextBatch(limit int) ([]schema.Node, error) {
	batch := pageNodes(s.nodes, s.afterSeq, limit)
	if len(batch) > 0 {
		s.afterSeq = batch[len(batch)-1].Sequence
	}
	return batch, nil
}

// WithChainSnapshot runs fn against a point-in-time copy of the chain and its nodes
func (s *memoryStore) WithChainSnapshot(_ context.Context, chainID string, fn func(snap ChainSnapshot) error) error {
	s.mu.RLock()
	chain, ok := s.chains[chainID]
	if !ok {
		s.mu.RUnlock()
		return domain.ErrChainNotFound
	}
	chainCopy := *chain
	nodesCopy := make([]schema.Node, len(s.nodes[chainID]))
	copy(nodesCopy, s.nodes[chainID])
	s.mu.RUnlock()

	return fn(&memoryChainSnapshot{chain: &chainCopy, nodes: nodesCopy})
}

// CreateFruitReceived persists a terminal fruit batch record
func (s *memoryStore) CreateFruitReceived(_ context.Context, fruit *schema.FruitReceived) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fruit.CreatedAt.IsZero() {
		fruit.CreatedAt = time.Now().UTC()
	}
	s.fruit[fruit.ID] = *fruit
	return nil
}

// GetFruitReceived retrieves a fruit batch by ID
func (s *memoryStore) GetFruitReceived(_ context.Context, fruitID string) (*schema.FruitReceived, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fruit, ok := s.fruit[fruitID]
	if !ok {
		return nil, domain.ErrFruitNotFound
	}
	return &fruit, nil
}

// FruitStats returns the batch count and total delivered volume for a chain
func (s *memoryStore) FruitStats(_ context.Context, chainID string) (int64, float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	var volume float64
	for _, f := range s.fruit {
		if f.ChainID == chainID {
			count++
			volume += f.VolumeKg
		}
	}
	return count, volume, nil
}
