package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/plugin/dbresolver"

	"github.com/vinetrace/vine-ledger/internal/domain"
	"github.com/vinetrace/vine-ledger/internal/store/schema"
)

type pgStore struct {
	db *gorm.DB
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// OpenDB opens a GORM connection with duplicate-key translation enabled.
// When readDSN is non-empty a dbresolver replica is registered so read paths
// (tracing, summaries, sweeps) are routed away from the primary.
func OpenDB(dsn, readDSN string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if readDSN != "" {
		err = db.Use(dbresolver.Register(dbresolver.Config{
			Replicas: []gorm.Dialector{postgres.Open(readDSN)},
		}))
		if err != nil {
			return nil, fmt.Errorf("failed to register read replica: %w", err)
		}
	}

	return db, nil
}

// Migrate creates or updates the traceability tables
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&schema.Chain{},
		&schema.Node{},
		&schema.Event{},
		&schema.FruitReceived{},
	)
}

// ConfigureConnectionPool configures the connection pool settings for a GORM
// database connection. Zero values fall back to defaults:
//   - MaxOpenConns: 20
//   - MaxIdleConns: 5
//   - ConnMaxLifetime: 5 minutes
//   - ConnMaxIdleTime: 10 minutes
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

func hasDBResolver(db *gorm.DB) bool {
	return db != nil && db.Callback().Query().Get("gorm:db_resolver") != nil
}

// CreateChain persists a chain and its genesis node in one transaction
func (s *pgStore) CreateChain(ctx context.Context, input CreateChainInput) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chain := input.Chain
		if err := tx.Create(&chain).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.ErrChainConflict
			}
			return fmt.Errorf("failed to create chain: %w", err)
		}

		genesis := input.Genesis
		if err := tx.Create(&genesis).Error; err != nil {
			return fmt.Errorf("failed to create genesis node: %w", err)
		}

		return nil
	})
}

// GetChain retrieves a chain by ID
func (s *pgStore) GetChain(ctx context.Context, chainID string) (*schema.Chain, error) {
	var chain schema.Chain
	err := s.db.WithContext(ctx).Where("id = ?", chainID).First(&chain).Error
	if err == nil {
		return &chain, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to get chain: %w", err)
	}
	if !hasDBResolver(s.db) {
		return nil, domain.ErrChainNotFound
	}

	// Replica can lag behind primary; retry on primary before returning not found.
	err = s.db.WithContext(ctx).Clauses(dbresolver.Write).Where("id = ?", chainID).First(&chain).Error
	if err == nil {
		return &chain, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrChainNotFound
	}
	return nil, fmt.Errorf("failed to get chain: %w", err)
}

// GetActiveChain retrieves the active chain for a (block, season) pair, nil when none
func (s *pgStore) GetActiveChain(ctx context.Context, blockID, season string) (*schema.Chain, error) {
	var chain schema.Chain
	err := s.db.WithContext(ctx).
		Where("block_id = ? AND season = ? AND active = ?", blockID, season, true).
		First(&chain).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active chain: %w", err)
	}
	return &chain, nil
}

// GetLatestChainByBlock retrieves the most recent chain for a block, preferring an active one
func (s *pgStore) GetLatestChainByBlock(ctx context.Context, blockID string) (*schema.Chain, error) {
	var chain schema.Chain
	err := s.db.WithContext(ctx).
		Where("block_id = ?", blockID).
		Order("active DESC, created_at DESC").
		First(&chain).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrChainNotFound
		}
		return nil, fmt.Errorf("failed to get chain for block: %w", err)
	}
	return &chain, nil
}

// ListActiveChains pages active chains ordered by creation time
func (s *pgStore) ListActiveChains(ctx context.Context, offset, limit int) ([]schema.Chain, error) {
	var chains []schema.Chain
	err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Order("created_at ASC").
		Offset(offset).
		Limit(limit).
		Find(&chains).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active chains: %w", err)
	}
	return chains, nil
}

// ArchiveChain marks a chain inactive and records archive metadata
func (s *pgStore) ArchiveChain(ctx context.Context, input ArchiveChainInput) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return archiveChainTx(tx, input)
	})
}

// archiveChainTx performs the archive inside an existing transaction
func archiveChainTx(tx *gorm.DB, input ArchiveChainInput) error {
	res := tx.Model(&schema.Chain{}).
		Where("id = ? AND active = ?", input.ChainID, true).
		Updates(map[string]any{
			"active":         false,
			"archived_at":    input.At,
			"archived_by":    input.Actor,
			"archive_reason": input.Reason,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to archive chain: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := tx.Model(&schema.Chain{}).Where("id = ?", input.ChainID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check chain existence: %w", err)
		}
		if count == 0 {
			return domain.ErrChainNotFound
		}
		// Archive is terminal; a second archive attempt is a caller bug.
		return domain.ErrChainArchived
	}
	return nil
}

// ReassignChain archives one chain and creates its successor in one transaction
func (s *pgStore) ReassignChain(ctx context.Context, input ReassignChainInput) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := archiveChainTx(tx, input.Archive); err != nil {
			return err
		}

		chain := input.NewChain.Chain
		if err := tx.Create(&chain).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.ErrChainConflict
			}
			return fmt.Errorf("failed to create successor chain: %w", err)
		}

		genesis := input.NewChain.Genesis
		if err := tx.Create(&genesis).Error; err != nil {
			return fmt.Errorf("failed to create successor genesis node: %w", err)
		}

		return nil
	})
}

// AppendNode persists a node and its event and advances the chain head in one
// transaction. The head update is an optimistic compare-and-swap: it only
// applies while the head still equals ExpectedHead and the chain is active,
// so concurrent appends to the same chain serialize without a held row lock.
func (s *pgStore) AppendNode(ctx context.Context, input AppendNodeInput) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chain schema.Chain
		if err := tx.Where("id = ?", input.ChainID).First(&chain).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrChainNotFound
			}
			return fmt.Errorf("failed to load chain: %w", err)
		}
		if !chain.Active {
			return domain.ErrChainArchived
		}

		node := input.Node
		if err := tx.Create(&node).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// Another append took this sequence first.
				return domain.ErrHeadConflict
			}
			return fmt.Errorf("failed to create node: %w", err)
		}

		event := input.Event
		if err := tx.Create(&event).Error; err != nil {
			return fmt.Errorf("failed to create event: %w", err)
		}

		res := tx.Model(&schema.Chain{}).
			Where("id = ? AND current_head_hash = ? AND active = ?", input.ChainID, input.ExpectedHead, true).
			Update("current_head_hash", node.Hash)
		if res.Error != nil {
			return fmt.Errorf("failed to advance chain head: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrHeadConflict
		}

		return nil
	})
}

// CountNodes returns the number of nodes in a chain
func (s *pgStore) CountNodes(ctx context.Context, chainID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&schema.Node{}).
		Where("chain_id = ?", chainID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count nodes: %w", err)
	}
	return count, nil
}

// GetNodeByHash retrieves a node of a chain by its hash
func (s *pgStore) GetNodeByHash(ctx context.Context, chainID, hash string) (*schema.Node, error) {
	var node schema.Node
	err := s.db.WithContext(ctx).
		Where("chain_id = ? AND hash = ?", chainID, hash).
		First(&node).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNodeNotFound
		}
		return nil, fmt.Errorf("failed to get node by hash: %w", err)
	}
	return &node, nil
}

// ListNodes pages nodes ordered by sequence, starting after afterSequence
func (s *pgStore) ListNodes(ctx context.Context, chainID string, afterSequence int64, limit int) ([]schema.Node, error) {
	var nodes []schema.Node
	q := s.db.WithContext(ctx).
		Where("chain_id = ? AND sequence > ?", chainID, afterSequence).
		Order("sequence ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&nodes).Error; err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	return nodes, nil
}

// ListNodesWithEvents loads a chain's full node sequence with event snapshots preloaded
func (s *pgStore) ListNodesWithEvents(ctx context.Context, chainID string) ([]schema.Node, error) {
	var nodes []schema.Node
	err := s.db.WithContext(ctx).
		Preload("Event").
		Where("chain_id = ?", chainID).
		Order("sequence ASC").
		Find(&nodes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes with events: %w", err)
	}
	return nodes, nil
}

// LastNodeTime returns the confirmation time of a chain's newest node
func (s *pgStore) LastNodeTime(ctx context.Context, chainID string) (*time.Time, error) {
	var node schema.Node
	err := s.db.WithContext(ctx).
		Where("chain_id = ?", chainID).
		Order("sequence DESC").
		First(&node).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get last node: %w", err)
	}
	return &node.ConfirmedAt, nil
}

// pgChainSnapshot pages nodes inside one repeatable-read transaction
type pgChainSnapshot struct {
	tx       *gorm.DB
	chain    *schema.Chain
	afterSeq int64
}

func (s *pgChainSnapshot) Chain() *schema.Chain {
	return s.chain
}

func (s *pgChainSnapshot) NextBatch(limit int) ([]schema.Node, error) {
	var nodes []schema.Node
	err := s.tx.
		Where("chain_id = ? AND sequence > ?", s.chain.ID, s.afterSeq).
		Order("sequence ASC").
		Limit(limit).
		Find(&nodes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to page snapshot nodes: %w", err)
	}
	if len(nodes) > 0 {
		s.afterSeq = nodes[len(nodes)-1].Sequence
	}
	return nodes, nil
}

// WithChainSnapshot runs fn against one consistent view of the chain and its
// nodes. The transaction runs at REPEATABLE READ so every batch and the head
// pointer come from the same database snapshot; concurrent appends to this or
// other chains never produce a torn read.
func (s *pgStore) WithChainSnapshot(ctx context.Context, chainID string, fn func(snap ChainSnapshot) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chain schema.Chain
		if err := tx.Where("id = ?", chainID).First(&chain).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrChainNotFound
			}
			return fmt.Errorf("failed to load chain: %w", err)
		}

		return fn(&pgChainSnapshot{tx: tx, chain: &chain})
	}, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
}

// CreateFruitReceived persists a terminal fruit batch record
func (s *pgStore) CreateFruitReceived(ctx context.Context, fruit *schema.FruitReceived) error {
	if err := s.db.WithContext(ctx).Clauses(clause.Returning{Columns: []clause.Column{}}).Create(fruit).Error; err != nil {
		return fmt.Errorf("failed to create fruit batch: %w", err)
	}
	return nil
}

// GetFruitReceived retrieves a fruit batch by ID
func (s *pgStore) GetFruitReceived(ctx context.Context, fruitID string) (*schema.FruitReceived, error) {
	var fruit schema.FruitReceived
	err := s.db.WithContext(ctx).Where("id = ?", fruitID).First(&fruit).Error
	if err == nil {
		return &fruit, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to get fruit batch: %w", err)
	}
	if !hasDBResolver(s.db) {
		return nil, domain.ErrFruitNotFound
	}

	// Replica can lag behind primary; retry on primary before returning not found.
	err = s.db.WithContext(ctx).Clauses(dbresolver.Write).Where("id = ?", fruitID).First(&fruit).Error
	if err == nil {
		return &fruit, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrFruitNotFound
	}
	return nil, fmt.Errorf("failed to get fruit batch: %w", err)
}

// FruitStats returns the batch count and total delivered volume for a chain
func (s *pgStore) FruitStats(ctx context.Context, chainID string) (int64, float64, error) {
	type stats struct {
		Count  int64
		Volume float64
	}
	var out stats
	err := s.db.WithContext(ctx).
		Model(&schema.FruitReceived{}).
		Select("COUNT(*) AS count, COALESCE(SUM(volume_kg), 0) AS volume").
		Where("chain_id = ?", chainID).
		Scan(&out).Error
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get fruit stats: %w", err)
	}
	return out.Count, out.Volume, nil
}
