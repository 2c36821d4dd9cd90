// Package sender drives customer-side payment channels: opening against
// a merchant, making payments, periodic sync and close. All mutating
// operations run inside a scoped storage transaction per channel URL.
package sender

import (
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/turnstilepay/turnstile/blockchain"
	"github.com/turnstilepay/turnstile/channels"
	"github.com/turnstilepay/turnstile/client"
	"github.com/turnstilepay/turnstile/models"
	"github.com/turnstilepay/turnstile/storage"
)

const (
	// MinExpirationDuration is the shortest channel lifetime worth
	// opening. Anything shorter risks the merchant rejecting the
	// handshake outright.
	MinExpirationDuration = 12 * time.Hour

	// DepositRebroadcastTimeout is how long Sync waits for a deposit
	// confirmation before rebroadcasting the deposit tx.
	DepositRebroadcastTimeout = time.Hour

	// RefundBroadcastTimeOffset is added past expiry before
	// broadcasting the refund, clearing median-time-past lock time
	// evaluation on the network.
	RefundBroadcastTimeOffset = 90 * time.Minute
)

// Status is a read-only projection of one channel.
type Status struct {
	URL            string
	Status         string
	Balance        int64
	Deposit        int64
	Fee            int64
	CreationTime   int64
	ExpirationTime int64
	DepositTxID    string
	SpendTxID      string

	// Raw transactions, populated only when requested.
	DepositTx string
	RefundTx  string
	PaymentTx string
}

// Client manages the customer's collection of channels.
type Client struct {
	wallet channels.Wallet
	bc     blockchain.Blockchain
	db     storage.ChannelStore
	dialer *client.Dialer
	net    string
	log    zerolog.Logger
}

func NewClient(wallet channels.Wallet, bc blockchain.Blockchain,
	db storage.ChannelStore, dialer *client.Dialer, net string,
	log zerolog.Logger) *Client {

	return &Client{
		wallet: wallet,
		bc:     bc,
		db:     db,
		dialer: dialer,
		net:    net,
		log:    log,
	}
}

// protocolOf derives the transport from a merchant URL scheme.
func protocolOf(rawurl string) (channels.Protocol, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return 0, errors.Wrap(client.ErrUnsupportedProtocol, rawurl)
	}
	p, ok := channels.ParseProtocol(u.Scheme)
	if !ok {
		return 0, errors.Wrap(client.ErrUnsupportedProtocol, u.Scheme)
	}
	return p, nil
}

// depositTxIDOf extracts the deposit txid suffix from a channel URL.
func depositTxIDOf(channelURL string) string {
	i := strings.LastIndex(channelURL, "/")
	if i < 0 {
		return ""
	}
	return channelURL[i+1:]
}

// baseURLOf strips the deposit txid suffix from a channel URL.
func baseURLOf(channelURL string) string {
	i := strings.LastIndex(channelURL, "/")
	if i < 0 {
		return channelURL
	}
	return channelURL[:i]
}

func (c *Client) dial(protocol channels.Protocol, baseURL string) (client.Channel, error) {
	return c.dialer.Dial(protocol, baseURL)
}

// Open establishes a new channel against the merchant at baseURL and
// returns the channel URL (baseURL plus the deposit txid).
func (c *Client) Open(baseURL string, deposit int64, expiration time.Duration,
	fee int64, zeroconf, useUnconfirmed bool) (string, error) {

	if expiration < MinExpirationDuration {
		return "", errors.Errorf("expiration below minimum %v", MinExpirationDuration)
	}

	protocol, err := protocolOf(baseURL)
	if err != nil {
		return "", err
	}
	ch, err := c.dial(protocol, baseURL)
	if err != nil {
		return "", err
	}

	disc, err := ch.GetPublicKey()
	if err != nil {
		return "", errors.Wrap(err, "merchant discovery")
	}
	if disc.Version != channels.Version {
		return "", errors.Errorf("unsupported merchant version %d", disc.Version)
	}

	model := &channels.Model{
		URL:      baseURL,
		Net:      c.net,
		Protocol: protocol,
		Status:   channels.StatusOpening,
	}
	sm, err := channels.NewStateMachine(model, c.wallet)
	if err != nil {
		return "", err
	}

	expirationTime := time.Now().Add(expiration).Unix()
	refundHex, finish, err := sm.Create(disc.PublicKey, deposit,
		expirationTime, fee, zeroconf, useUnconfirmed)
	if err != nil {
		return "", err
	}

	openResp, err := ch.Open(&models.OpenRequest{RefundTx: refundHex})
	if err != nil {
		return "", errors.Wrap(err, "channel open rpc")
	}
	if err := finish(openResp.RefundTx); err != nil {
		return "", err
	}

	depositTxID := sm.DepositTxID()
	channelURL := baseURL + "/" + depositTxID
	model.URL = channelURL

	if err := c.db.Create(model); err != nil {
		return "", err
	}

	depositHex, err := sm.DepositTxHex()
	if err != nil {
		return "", err
	}
	if _, err := c.bc.Broadcast(depositHex); err != nil {
		return "", errors.Wrap(err, "broadcast deposit")
	}
	err = ch.Finish(depositTxID, &models.FinishRequest{DepositTx: depositHex})
	if err != nil {
		return "", errors.Wrap(err, "channel finish rpc")
	}

	c.log.Info().
		Str("url", channelURL).
		Int64("deposit", deposit).
		Int64("expires_at", expirationTime).
		Msg("channel opened")

	return channelURL, nil
}

// Pay sends amount satoshi over the channel. The local model only
// commits once the merchant acknowledges; any remote failure rolls the
// in-flight payment back.
func (c *Client) Pay(channelURL string, amount int64) error {
	var closed bool
	err := c.db.With(channelURL, func(model *channels.Model) error {
		sm, err := channels.NewStateMachine(model, c.wallet)
		if err != nil {
			return err
		}

		switch sm.Status() {
		case channels.StatusReady:
		case channels.StatusClosed:
			return ErrClosed
		default:
			return ErrNotReady
		}

		paymentHex, err := sm.Pay(amount)
		if err != nil {
			return err
		}

		ch, err := c.dial(model.Protocol, baseURLOf(channelURL))
		if err != nil {
			return err
		}
		_, err = ch.Pay(sm.DepositTxID(), &models.PayRequest{PaymentTx: paymentHex})
		if errors.Is(err, client.ErrNotFound) {
			// Merchant no longer knows the channel: it closed on its
			// side. Roll back the payment and close locally. Return
			// nil so the closed model is persisted; the caller still
			// sees ErrClosed.
			if err := sm.PayNack(); err != nil {
				return err
			}
			if err := sm.Close(""); err != nil {
				return err
			}
			closed = true
			return nil
		} else if err != nil {
			if nerr := sm.PayNack(); nerr != nil {
				return nerr
			}
			// Nacked state must still be persisted.
			c.log.Warn().Err(err).Str("url", channelURL).Msg("payment rejected")
			return errors.Wrap(ErrPayment, err.Error())
		}

		return sm.PayAck()
	})
	if err != nil {
		return err
	}
	if closed {
		return ErrClosed
	}
	return nil
}

// Sync advances the channel from on-chain observations: deposit
// confirmation, merchant-side spends and expiry refunds. Callers invoke
// it periodically; it never blocks beyond its network calls.
func (c *Client) Sync(channelURL string) error {
	return c.db.With(channelURL, func(model *channels.Model) error {
		sm, err := channels.NewStateMachine(model, c.wallet)
		if err != nil {
			return err
		}
		if sm.Status() == channels.StatusClosed {
			return nil
		}
		return c.sync(channelURL, sm)
	})
}

func (c *Client) sync(channelURL string, sm *channels.StateMachine) error {
	now := time.Now().Unix()

	switch sm.Status() {
	case channels.StatusConfirmingDeposit:
		confirmed, err := c.bc.Confirmed(sm.DepositTxID())
		if err != nil {
			return err
		}
		if confirmed {
			if err := sm.Confirm(); err != nil {
				return err
			}
		} else if now-sm.CreationTime() > int64(DepositRebroadcastTimeout/time.Second) {
			depositHex, err := sm.DepositTxHex()
			if err != nil {
				return err
			}
			if _, err := c.bc.Broadcast(depositHex); err != nil {
				c.log.Warn().Err(err).Str("url", channelURL).
					Msg("deposit rebroadcast failed")
			}
		}

	case channels.StatusReady, channels.StatusConfirmingSpend:
		spendTxID := sm.SpendTxID()
		if spendTxID == "" {
			index, err := sm.DepositOutputIndex()
			if err != nil {
				return err
			}
			spendTxID, err = c.bc.SpendOf(sm.DepositTxID(), uint32(index))
			if err != nil && !errors.Is(err, blockchain.ErrSpendLookupUnsupported) {
				return err
			}
		}
		if spendTxID != "" {
			if sm.Status() == channels.StatusReady {
				if err := sm.Close(spendTxID); err != nil {
					return err
				}
			}
			confirmed, err := c.bc.Confirmed(spendTxID)
			if err != nil {
				return err
			}
			if confirmed {
				rawTx, err := c.bc.RawTx(spendTxID)
				if err != nil {
					return err
				}
				if err := sm.Finalize(rawTx); err != nil {
					return err
				}
				c.log.Info().Str("url", channelURL).
					Str("spend_txid", spendTxID).Msg("channel spend finalized")
			}
		}
	}

	// Past expiry the refund is valid; take the whole deposit back
	// regardless of what the merchant is doing.
	if sm.Status() != channels.StatusClosed &&
		sm.Status() != channels.StatusOpening &&
		now > sm.ExpirationTime()+int64(RefundBroadcastTimeOffset/time.Second) {

		refundHex, err := sm.RefundTxHex()
		if err != nil {
			return err
		}
		refundTxID, err := c.bc.Broadcast(refundHex)
		if err != nil {
			return errors.Wrap(err, "broadcast refund")
		}
		c.log.Info().Str("url", channelURL).
			Str("refund_txid", refundTxID).Msg("channel expired, refund broadcast")
		return sm.Close(refundTxID)
	}

	return nil
}

// Close cooperatively closes the channel, authorizing the merchant to
// broadcast the latest payment by signing the deposit txid.
func (c *Client) Close(channelURL string) error {
	return c.db.With(channelURL, func(model *channels.Model) error {
		sm, err := channels.NewStateMachine(model, c.wallet)
		if err != nil {
			return err
		}
		if sm.Status() != channels.StatusReady {
			if sm.Status() == channels.StatusClosed {
				return ErrClosed
			}
			return ErrNotReady
		}
		if sm.PaymentTxID() == "" {
			return ErrNoPayment
		}

		sig, err := sm.DepositTxIDSignature()
		if err != nil {
			return err
		}

		ch, err := c.dial(model.Protocol, baseURLOf(channelURL))
		if err != nil {
			return err
		}
		resp, err := ch.Close(sm.DepositTxID(), &models.CloseRequest{Signature: sig})
		if errors.Is(err, client.ErrNotFound) {
			return sm.Close("")
		} else if err != nil {
			return errors.Wrap(err, "channel close rpc")
		}

		c.log.Info().Str("url", channelURL).
			Str("payment_txid", resp.PaymentTxID).Msg("channel close requested")
		return sm.Close(resp.PaymentTxID)
	})
}

// List enumerates all known channel URLs.
func (c *Client) List() ([]string, error) {
	return c.db.List()
}

// SyncAll runs Sync over every channel, returning the last error.
func (c *Client) SyncAll() error {
	urls, err := c.db.List()
	if err != nil {
		return err
	}
	var anyErr error
	for _, u := range urls {
		if err := c.Sync(u); err != nil {
			c.log.Error().Err(err).Str("url", u).Msg("channel sync failed")
			anyErr = err
		}
	}
	return anyErr
}

// Status returns a read-only projection of the channel. includeTxs adds
// the raw transaction hex fields.
func (c *Client) Status(channelURL string, includeTxs bool) (*Status, error) {
	model, err := c.db.Get(channelURL)
	if err != nil {
		return nil, err
	}
	sm, err := channels.NewStateMachine(model, c.wallet)
	if err != nil {
		return nil, err
	}

	st := &Status{
		URL:            channelURL,
		Status:         sm.Status().String(),
		Balance:        sm.BalanceAmount(),
		Deposit:        sm.DepositAmount(),
		Fee:            sm.FeeAmount(),
		CreationTime:   sm.CreationTime(),
		ExpirationTime: sm.ExpirationTime(),
		DepositTxID:    sm.DepositTxID(),
		SpendTxID:      sm.SpendTxID(),
	}
	if includeTxs {
		if st.DepositTx, err = sm.DepositTxHex(); err != nil {
			return nil, err
		}
		if st.RefundTx, err = sm.RefundTxHex(); err != nil {
			return nil, err
		}
		if model.PaymentTx != nil {
			if st.PaymentTx, err = sm.PaymentTxHex(); err != nil {
				return nil, err
			}
		}
	}
	return st, nil
}
