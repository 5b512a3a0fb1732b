package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/RyanW02/supplytrail/pkg/errs"
	"github.com/RyanW02/supplytrail/pkg/pool"
	"github.com/RyanW02/supplytrail/pkg/types/events"
	"github.com/cometbft/cometbft/rpc/client/http"
	"go.uber.org/zap"
	"sync"
	"time"
)

type (
	// CometNetwork submits messages to a CometBFT chain running the topic application. Calls are load-balanced
	// across the configured nodes.
	CometNetwork struct {
		logger *zap.Logger
		config CometConfig
		pool   *pool.Pool[*http.HTTP]

		mu            sync.Mutex
		subscriptions map[*subscription]struct{}
	}

	CometConfig struct {
		BroadcastTimeout  time.Duration
		ProbeTimeout      time.Duration
		ProbeTTL          time.Duration
		ReviveInterval    time.Duration
		ReconnectBackoff  time.Duration
		SubscribeTimeout  time.Duration
		WebsocketMaxBytes int64
	}

	// TopicTx is the transaction format understood by the topic application.
	TopicTx struct {
		TopicID string          `json:"topic_id"`
		Message json.RawMessage `json:"message"`
	}

	// topicTxResult is the data returned by the topic application once it has ordered a message.
	topicTxResult struct {
		SequenceNumber *events.SequenceNumber `json:"sequence_number"`
	}
)

var _ Network = (*CometNetwork)(nil)

func DefaultCometConfig() CometConfig {
	return CometConfig{
		BroadcastTimeout:  30 * time.Second,
		ProbeTimeout:      5 * time.Second,
		ProbeTTL:          10 * time.Second,
		ReviveInterval:    15 * time.Second,
		ReconnectBackoff:  10 * time.Second,
		SubscribeTimeout:  10 * time.Second,
		WebsocketMaxBytes: 16 * 1024 * 1024,
	}
}

// DialComet creates an RPC client for each node address.
func DialComet(logger *zap.Logger, config CometConfig, nodeAddresses []string) (*CometNetwork, error) {
	if len(nodeAddresses) == 0 {
		return nil, errors.New("at least one ledger node address is required")
	}

	clients := make([]*http.HTTP, 0, len(nodeAddresses))
	for _, address := range nodeAddresses {
		client, err := http.New(address, "/websocket")
		if err != nil {
			return nil, fmt.Errorf("failed to create client for %s: %w", address, err)
		}

		clients = append(clients, client)
	}

	return NewCometNetwork(logger, config, clients), nil
}

func NewCometNetwork(logger *zap.Logger, config CometConfig, clients []*http.HTTP) *CometNetwork {
	return &CometNetwork{
		logger: logger,
		config: config,
		pool: pool.New(clients, pool.Options[*http.HTTP]{
			Probe: func(c *http.HTTP) bool {
				ctx, cancel := context.WithTimeout(context.Background(), config.ProbeTimeout)
				defer cancel()

				_, err := c.ABCIInfo(ctx)
				return err == nil
			},
			ProbeTTL:       config.ProbeTTL,
			ReviveInterval: config.ReviveInterval,
			Close: func(c *http.HTTP) error {
				if !c.IsRunning() {
					return nil
				}

				return c.Stop()
			},
		}),
		subscriptions: make(map[*subscription]struct{}),
	}
}

func (n *CometNetwork) Submit(ctx context.Context, topicID string, data []byte) (NetworkReceipt, error) {
	tx, err := json.Marshal(TopicTx{TopicID: topicID, Message: data})
	if err != nil {
		return NetworkReceipt{}, err
	}

	conn, err := n.pool.Next()
	if err != nil {
		// Nodes may come back, so let the caller retry
		return NetworkReceipt{}, fmt.Errorf("%w: %s", errs.ErrNetworkTimeout, err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, n.config.BroadcastTimeout)
	defer cancel()

	res, err := conn.BroadcastTxCommit(ctx, tx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return NetworkReceipt{}, fmt.Errorf("%w: broadcast to %s: %s", errs.ErrNetworkTimeout, conn.Remote(), err.Error())
		}

		if errors.Is(err, context.Canceled) {
			return NetworkReceipt{}, err
		}

		return NetworkReceipt{}, ClassifyRejection(err.Error())
	}

	if res.CheckTx.Code != 0 {
		return NetworkReceipt{}, ClassifyRejection(fmt.Sprintf("check tx failed with code %d: %s", res.CheckTx.Code, res.CheckTx.Log))
	}

	if res.TxResult.Code != 0 {
		return NetworkReceipt{}, ClassifyRejection(fmt.Sprintf("tx failed with code %d: %s", res.TxResult.Code, res.TxResult.Log))
	}

	receipt := NetworkReceipt{
		TransactionID: res.Hash.String(),
	}

	if len(res.TxResult.Data) > 0 {
		var result topicTxResult
		if err := json.Unmarshal(res.TxResult.Data, &result); err != nil {
			n.logger.Warn("Failed to decode tx result data", zap.String("tx_hash", receipt.TransactionID), zap.Error(err))
		} else if result.SequenceNumber != nil {
			sequence := result.SequenceNumber.Int64()
			receipt.SequenceNumber = &sequence
		}
	}

	return receipt, nil
}

// Close ends every subscription and stops the RPC clients.
func (n *CometNetwork) Close(ctx context.Context) error {
	n.mu.Lock()
	subs := make([]*subscription, 0, len(n.subscriptions))
	for sub := range n.subscriptions {
		subs = append(subs, sub)
	}
	n.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}

	return n.pool.Close(ctx)
}
