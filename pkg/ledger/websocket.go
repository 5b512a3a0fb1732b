package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"go.uber.org/zap"
	"net/url"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
	"sync"
	"time"
)

// CometBFT's bundled websocket client drops events that arrive in quick succession
// (https://github.com/tendermint/tendermint/issues/6729), so subscriptions use nhooyr.io/websocket directly.

type (
	jsonRpcRequest[T any] struct {
		JsonRPCVersion string `json:"jsonrpc"`
		Method         string `json:"method"`
		Id             int    `json:"id"`
		Params         T      `json:"params"`
	}

	queryParams struct {
		Query string `json:"query"`
	}

	jsonRpcResponse[T any] struct {
		JsonRPCVersion string        `json:"jsonrpc"`
		Id             int           `json:"id"`
		Result         T             `json:"result"`
		Error          *jsonRpcError `json:"error,omitempty"`
	}

	jsonRpcError struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    string `json:"data"`
	}

	txEvent struct {
		Query string `json:"query"`
		Data  struct {
			Type  string `json:"type"`
			Value struct {
				TxResult struct {
					Height string `json:"height"`
					Tx     []byte `json:"tx"`
				} `json:"TxResult"`
			} `json:"value"`
		} `json:"data"`
	}

	subscription struct {
		network *CometNetwork
		logger  *zap.Logger
		topicID string
		onData  func([]byte)
		onError func(error)

		cancel context.CancelFunc
		done   chan struct{}
		once   sync.Once
	}
)

const subscriptionQueryId = 1

var ErrSubscribeFailed = errors.New("failed to subscribe to ledger events")

func topicQuery(topicID string) string {
	return fmt.Sprintf("tm.event='Tx' AND topic.id='%s'", topicID)
}

func (n *CometNetwork) Subscribe(topicID string, onData func([]byte), onError func(error)) (func(), error) {
	if topicID == "" {
		return nil, errors.New("topic id is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		network: n,
		logger:  n.logger.With(zap.String("topic_id", topicID)),
		topicID: topicID,
		onData:  onData,
		onError: onError,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	n.mu.Lock()
	n.subscriptions[sub] = struct{}{}
	n.mu.Unlock()

	go sub.run(ctx)

	return sub.stop, nil
}

// stop ends the subscription and waits for its goroutine to exit. It is safe to call more than once.
func (s *subscription) stop() {
	s.once.Do(func() {
		s.cancel()
		<-s.done

		s.network.mu.Lock()
		delete(s.network.subscriptions, s)
		s.network.mu.Unlock()
	})
}

func (s *subscription) run(ctx context.Context) {
	defer close(s.done)

	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return
		}

		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			s.logger.Warn("Ledger websocket connection closed, will reconnect", zap.Error(err))
		} else {
			s.logger.Error("Ledger websocket failed, will reconnect", zap.Error(err))
		}

		s.onError(err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.network.config.ReconnectBackoff):
		}
	}
}

// session holds a single websocket connection open until it fails or ctx is cancelled.
func (s *subscription) session(ctx context.Context) error {
	node, err := s.network.pool.Next()
	if err != nil {
		return err
	}

	wsUrl, err := websocketUrl(node.Remote())
	if err != nil {
		return err
	}

	s.logger.Debug("Connecting to ledger websocket", zap.String("node_address", node.Remote()))

	dialCtx, cancel := context.WithTimeout(ctx, s.network.config.SubscribeTimeout)
	conn, _, err := websocket.Dial(dialCtx, wsUrl.String(), nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "unsubscribed")

	if s.network.config.WebsocketMaxBytes > 0 {
		conn.SetReadLimit(s.network.config.WebsocketMaxBytes)
	}

	writeCtx, cancel := context.WithTimeout(ctx, s.network.config.SubscribeTimeout)
	err = wsjson.Write(writeCtx, conn, jsonRpcRequest[queryParams]{
		JsonRPCVersion: "2.0",
		Method:         "subscribe",
		Id:             subscriptionQueryId,
		Params:         queryParams{Query: topicQuery(s.topicID)},
	})
	cancel()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrSubscribeFailed, err.Error())
	}

	s.logger.Info("Subscribed to ledger topic", zap.String("node_address", node.Remote()))

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		if msgType != websocket.MessageText {
			s.logger.Warn("Received unexpected message type from ledger websocket", zap.Int("message_type", int(msgType)))
			continue
		}

		var res jsonRpcResponse[txEvent]
		if err := json.Unmarshal(data, &res); err != nil {
			s.onError(fmt.Errorf("failed to decode websocket message: %w", err))
			continue
		}

		if res.Error != nil {
			return fmt.Errorf("%w: %s (%s)", ErrSubscribeFailed, res.Error.Message, res.Error.Data)
		}

		// The acknowledgement of the subscribe request has an empty result
		if res.Result.Query == "" || len(res.Result.Data.Value.TxResult.Tx) == 0 {
			continue
		}

		var tx TopicTx
		if err := json.Unmarshal(res.Result.Data.Value.TxResult.Tx, &tx); err != nil {
			s.onError(fmt.Errorf("failed to decode topic transaction: %w", err))
			continue
		}

		if tx.TopicID != s.topicID {
			continue
		}

		s.onData(tx.Message)
	}
}

func websocketUrl(nodeAddress string) (*url.URL, error) {
	parsed, err := url.Parse(nodeAddress)
	if err != nil {
		return nil, err
	}

	switch parsed.Scheme {
	case "https", "wss":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}

	parsed.Path = "/websocket"
	return parsed, nil
}
