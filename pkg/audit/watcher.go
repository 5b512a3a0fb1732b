// Package audit follows the ledger topic that credential audit envelopes are written to, and checks that every
// envelope claiming to come from this issuer carries a valid signature.
package audit

import (
	"context"
	"crypto/ed25519"
	"github.com/RyanW02/supplytrail/pkg/signature"
	"github.com/RyanW02/supplytrail/pkg/types/events"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"time"
)

type (
	Subscriber interface {
		Subscribe(topicID string, onMessage func(events.Envelope), onError func(error)) (func(), error)
	}

	TamperRecorder interface {
		RecordTampering()
	}

	Watcher struct {
		logger     *zap.Logger
		subscriber Subscriber
		verifier   *signature.Verifier
		recorder   TamperRecorder

		topicID   string
		issuerID  string
		publicKey ed25519.PublicKey
		timeout   time.Duration

		verified *atomic.Int64
		rejected *atomic.Int64
		foreign  *atomic.Int64
	}

	Stats struct {
		Verified int64 `json:"verified"`
		Rejected int64 `json:"rejected"`
		Foreign  int64 `json:"foreign"`
	}
)

func NewWatcher(
	logger *zap.Logger,
	subscriber Subscriber,
	verifier *signature.Verifier,
	recorder TamperRecorder,
	topicID, issuerID string,
	publicKey ed25519.PublicKey,
) *Watcher {
	return &Watcher{
		logger:     logger,
		subscriber: subscriber,
		verifier:   verifier,
		recorder:   recorder,
		topicID:    topicID,
		issuerID:   issuerID,
		publicKey:  publicKey,
		timeout:    5 * time.Second,
		verified:   atomic.NewInt64(0),
		rejected:   atomic.NewInt64(0),
		foreign:    atomic.NewInt64(0),
	}
}

// StartLoop subscribes to the topic and checks envelopes until a shutdown is requested.
func (w *Watcher) StartLoop(shutdownCh chan chan error) {
	unsubscribe, err := w.subscriber.Subscribe(w.topicID, w.Check, func(err error) {
		w.logger.Warn("Audit topic subscription error", zap.String("topic_id", w.topicID), zap.Error(err))
	})
	if err != nil {
		w.logger.Error("Failed to subscribe to audit topic", zap.String("topic_id", w.topicID), zap.Error(err))
		ch := <-shutdownCh
		ch <- nil
		return
	}

	w.logger.Info("Watching audit topic", zap.String("topic_id", w.topicID))

	ch := <-shutdownCh
	unsubscribe()
	ch <- nil
}

// Check verifies a single envelope. Envelopes signed by other issuers are counted, but not verified, as this
// service does not hold their keys.
func (w *Watcher) Check(envelope events.Envelope) {
	signer := envelope.SignerAddress()
	if signer != w.issuerID {
		w.foreign.Inc()
		w.logger.Debug("Ignoring envelope from another issuer", zap.String("signer", signer))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	res, err := w.verifier.VerifyMessage(ctx, envelope, signature.Config{
		ExpectedSigner: w.issuerID,
		PublicKey:      w.publicKey,
	})
	if err != nil {
		w.logger.Error("Failed to verify audit envelope", zap.String("product_id", envelope.ProductID), zap.Error(err))
		return
	}

	if !res.Valid {
		w.rejected.Inc()
		if w.recorder != nil {
			w.recorder.RecordTampering()
		}

		w.logger.Warn("Audit envelope failed signature verification",
			zap.String("product_id", envelope.ProductID),
			zap.Int64("sequence_number", int64(envelope.Metadata.SequenceNumber)),
			zap.Error(res.Error),
		)
		return
	}

	w.verified.Inc()
}

func (w *Watcher) Stats() Stats {
	return Stats{
		Verified: w.verified.Load(),
		Rejected: w.rejected.Load(),
		Foreign:  w.foreign.Load(),
	}
}
