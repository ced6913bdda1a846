// Package bridge consumes confirmation events published by collaborator
// workflows (task/observation confirmation, fruit deliveries, block
// assignment changes) and maps each onto the corresponding ledger operation.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/vinetrace/vine-ledger/internal/adapter"
	"github.com/vinetrace/vine-ledger/internal/domain"
	"github.com/vinetrace/vine-ledger/internal/ledger"
	"github.com/vinetrace/vine-ledger/internal/logger"
	"github.com/vinetrace/vine-ledger/internal/store"
	"github.com/vinetrace/vine-ledger/internal/store/schema"
)

// Config holds the configuration for the trace event bridge
type Config struct {
	URL            string
	StreamName     string
	ConsumerName   string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectionName string
	AckWaitTimeout time.Duration
	MaxDeliver     int
}

// Bridge defines the interface for the trace event bridge
type Bridge interface {
	// Run starts consuming trace events; blocks until the context is canceled
	Run(ctx context.Context) error
	// Close closes the bridge and cleans up resources
	Close()
}

type bridge struct {
	nc      adapter.NatsConn
	js      adapter.JetStream
	store   store.Store
	manager ledger.Manager
	builder ledger.Builder
	json    adapter.JSON
	config  Config
}

// NewBridge creates a new trace event bridge
func NewBridge(
	cfg Config,
	natsJS adapter.NatsJetStream,
	st store.Store,
	manager ledger.Manager,
	builder ledger.Builder,
	jsonAdapter adapter.JSON,
) (Bridge, error) {
	opts := []nats.Option{
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Error(err, zap.String("message", "Disconnected from NATS"))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	nc, js, err := natsJS.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS and create JetStream: %w", err)
	}

	return &bridge{
		nc:      nc,
		js:      js,
		store:   st,
		manager: manager,
		builder: builder,
		json:    jsonAdapter,
		config:  cfg,
	}, nil
}

// Run starts consuming trace events
func (b *bridge) Run(ctx context.Context) error {
	logger.Info("Starting trace event bridge",
		zap.String("stream", b.config.StreamName),
		zap.String("consumer", b.config.ConsumerName))

	consumerConfig := jetstream.ConsumerConfig{
		Durable:       b.config.ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       b.config.AckWaitTimeout,
		MaxDeliver:    b.config.MaxDeliver,
		FilterSubject: "trace.events.>",
	}

	consumer, err := b.js.CreateOrUpdateConsumer(ctx, b.config.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create/update consumer: %w", err)
	}

	consumerInfo, err := consumer.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get consumer info: %w", err)
	}
	logger.Info("Consumer created/retrieved", zap.String("consumer", consumerInfo.Name))

	msgChan := make(chan adapter.Message, 100)
	sub, err := consumer.Consume(func(msg adapter.Message) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	defer sub.Stop()

	logger.Info("Started consuming messages")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down trace event bridge")
			return ctx.Err()
		case msg := <-msgChan:
			b.handleMessage(ctx, msg)
		}
	}
}

// handleMessage processes a single trace event message. Unparseable or
// structurally invalid messages are terminated; retryable ledger failures
// are NAKed so JetStream redelivers them.
func (b *bridge) handleMessage(ctx context.Context, msg adapter.Message) {
	metadata, _ := msg.Metadata()

	var event domain.TraceEvent
	if err := b.json.Unmarshal(msg.Data(), &event); err != nil {
		logger.Error(err, zap.String("message", "Failed to unmarshal trace event"))
		if err := msg.Term(); err != nil {
			logger.Error(err, zap.String("message", "Failed to terminate message"))
		}
		return
	}

	if !event.Valid() {
		logger.Warn("Dropping structurally invalid trace event",
			zap.String("kind", string(event.Kind)),
			zap.String("block_id", event.BlockID))
		if err := msg.Term(); err != nil {
			logger.Error(err, zap.String("message", "Failed to terminate message"))
		}
		return
	}

	var deliveries uint64
	if metadata != nil {
		deliveries = metadata.NumDelivered
	}
	logger.Info("Received trace event",
		zap.String("kind", string(event.Kind)),
		zap.String("block_id", event.BlockID),
		zap.String("season", event.Season),
		zap.Uint64("delivery_count", deliveries),
	)

	if err := b.apply(ctx, &event); err != nil {
		if isPermanent(err) {
			// Redelivery cannot fix a conflict with recorded state.
			logger.Error(err, zap.String("message", "Rejecting trace event"),
				zap.String("kind", string(event.Kind)),
				zap.String("block_id", event.BlockID))
			if err := msg.Term(); err != nil {
				logger.Error(err, zap.String("message", "Failed to terminate message"))
			}
			return
		}
		logger.Error(err, zap.String("message", "Failed to apply trace event"))
		if err := msg.Nak(); err != nil {
			logger.Error(err, zap.String("message", "Failed to NAK message"))
		}
		return
	}

	if err := msg.Ack(); err != nil {
		logger.Error(err, zap.String("message", "Failed to ACK message"))
	}
}

// isPermanent reports whether redelivering the message could ever succeed
func isPermanent(err error) bool {
	return errors.Is(err, domain.ErrChainConflict) ||
		errors.Is(err, domain.ErrChainArchived) ||
		errors.Is(err, domain.ErrChainNotFound)
}

// apply maps one trace event onto the corresponding ledger operation
func (b *bridge) apply(ctx context.Context, event *domain.TraceEvent) error {
	switch event.Kind {
	case domain.TraceEventBlockAssigned:
		_, err := b.manager.CreateChainForBlock(ctx, ledger.CreateChainInput{
			BlockID:    event.BlockID,
			CompanyID:  event.CompanyID,
			Season:     event.Season,
			SeasonType: event.SeasonType,
			Actor:      event.Actor,
			Origin:     domain.ChainOriginAssignment,
		})
		return err

	case domain.TraceEventBlockReassigned:
		_, err := b.manager.HandleCompanyReassignment(ctx, ledger.ReassignmentInput{
			BlockID:    event.BlockID,
			OldCompany: event.OldCompany,
			NewCompany: event.NewCompany,
			Season:     event.Season,
			SeasonType: event.SeasonType,
			Actor:      event.Actor,
		})
		return err

	case domain.TraceEventSeasonEnded:
		reason := event.Reason
		if reason == "" {
			reason = "season ended"
		}
		_, err := b.manager.ArchiveChainForSeason(ctx, event.BlockID, event.Season, event.Actor, reason)
		return err

	case domain.TraceEventTaskConfirmed, domain.TraceEventObservationConfirmed:
		chain, err := b.activeChain(ctx, event)
		if err != nil {
			return err
		}
		kind := domain.NodeKindTask
		if event.Kind == domain.TraceEventObservationConfirmed {
			kind = domain.NodeKindObservation
		}
		_, err = b.builder.AppendNode(ctx, ledger.AppendInput{
			ChainID:      chain.ID,
			Kind:         kind,
			Source:       domain.SourceRef{Kind: event.SourceKind, ID: event.SourceID},
			EventType:    event.EventType,
			Data:         event.Data,
			PrivacyLevel: event.PrivacyLevel,
			Actor:        event.Actor,
			ConfirmedAt:  event.ConfirmedAt,
		})
		return err

	case domain.TraceEventFruitDelivered:
		chain, err := b.activeChain(ctx, event)
		if err != nil {
			return err
		}
		_, _, err = b.builder.RecordFruitReceived(ctx, ledger.FruitDeliveryInput{
			ChainID:      chain.ID,
			Source:       domain.SourceRef{Kind: domain.SourceKindDelivery, ID: event.SourceID},
			Data:         event.Data,
			PrivacyLevel: event.PrivacyLevel,
			Actor:        event.Actor,
			DeliveredAt:  event.ConfirmedAt,
			VolumeKg:     event.VolumeKg,
			QualityGrade: event.QualityGrade,
			Metrics:      event.Metrics,
			ExtraParents: event.HarvestParents,
		})
		return err

	default:
		return fmt.Errorf("unknown trace event kind: %s", event.Kind)
	}
}

// activeChain resolves the active chain a confirmation event belongs to
func (b *bridge) activeChain(ctx context.Context, event *domain.TraceEvent) (*schema.Chain, error) {
	chain, err := b.store.GetActiveChain(ctx, event.BlockID, event.Season)
	if err != nil {
		return nil, err
	}
	if chain == nil {
		return nil, fmt.Errorf("%w: no active chain for block %s season %s",
			domain.ErrChainNotFound, event.BlockID, event.Season)
	}
	return chain, nil
}

// Close closes the bridge and cleans up resources
func (b *bridge) Close() {
	if b.nc == nil {
		return
	}
	b.nc.Close()
}
