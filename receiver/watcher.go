package receiver

import (
	"context"
	"time"

	"github.com/turnstilepay/turnstile/channels"
	"github.com/turnstilepay/turnstile/storage"
)

func (r *Receiver) checkChannel(rec *storage.ChannelRecord) error {
	switch rec.State {
	case storage.ChannelConfirming:
		confirmed, err := r.bc.Confirmed(rec.DepositTxID)
		if err != nil {
			return err
		}
		if confirmed {
			rec.State = storage.ChannelReady
			return r.db.UpdateChannel(rec)
		}
		return nil

	case storage.ChannelReady:
		// Channel spent on-chain (customer refund after expiry) means
		// any stored payment tx is no longer broadcastable.
		if rec.DepositTx != "" {
			refundTx, err := channels.TxFromHex(rec.RefundTx)
			if err != nil {
				return err
			}
			vout := refundTx.TxIn[0].PreviousOutPoint.Index

			spendTxID, err := r.bc.SpendOf(rec.DepositTxID, vout)
			if err == nil && spendTxID != "" {
				r.log.Info().
					Str("deposit_txid", rec.DepositTxID).
					Str("spend_txid", spendTxID).
					Msg("channel deposit spent on-chain")
				rec.State = storage.ChannelClosed
				return r.db.UpdateChannel(rec)
			}
		}

		// Close before the refund becomes valid, or the customer can
		// take the whole deposit back.
		if rec.PaymentTx != "" &&
			time.Now().Add(r.config.ExpTimeBuffer).Unix() > rec.ExpiresAt {
			r.log.Info().
				Str("deposit_txid", rec.DepositTxID).
				Msg("closing channel nearing expiry")
			_, err := r.closeChannel(rec)
			return err
		}
		return nil

	default:
		return nil
	}
}

// Sync runs one pass over all channels: confirms deposits, detects
// on-chain spends and force-closes channels nearing expiry.
func (r *Receiver) Sync() error {
	recs, err := r.db.ListChannels()
	if err != nil {
		return err
	}

	var anyErr error
	for i := range recs {
		if err := r.checkChannel(&recs[i]); err != nil {
			r.log.Error().Err(err).
				Str("deposit_txid", recs[i].DepositTxID).
				Msg("channel sync failed")
			anyErr = err
		}
	}
	return anyErr
}

// Watch runs Sync on the given interval until ctx is cancelled.
func (r *Receiver) Watch(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := r.Sync(); err != nil {
				r.log.Error().Err(err).Msg("sync pass failed")
			}
		}
	}
}
