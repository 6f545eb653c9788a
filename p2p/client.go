package p2p

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"privwallet/internal/signer"
	"privwallet/internal/transactions"
	"privwallet/internal/transactions/register"
)

// Peer is a validator's index and base URL, e.g. http://10.0.0.2:7000.
type Peer struct {
	Index int
	URL   string
}

// PeersFromURLs numbers validators by their position, starting at 1.
func PeersFromURLs(urls []string) []Peer {
	peers := make([]Peer, len(urls))
	for i, u := range urls {
		peers[i] = Peer{Index: i + 1, URL: u}
	}
	return peers
}

// Client sends wallet requests to every validator. It satisfies the
// wallet's ValidatorTransport.
type Client struct {
	ID    string
	peers []Peer
	http  *http.Client
	log   zerolog.Logger
}

// NewClient returns a client for peers with a per-request timeout.
func NewClient(id string, peers []Peer, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{ID: id, peers: peers, http: &http.Client{Timeout: timeout}, log: log}
}

// SendMessage posts one message to peer and returns the reply payload.
func (c *Client) SendMessage(ctx context.Context, peer Peer, messageType string, payload []byte) ([]byte, error) {
	body, err := json.Marshal(Message{Type: messageType, Payload: payload, SenderID: c.ID})
	if err != nil {
		return nil, errors.Wrap(err, "marshal message envelope")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, peer.URL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "send to validator %d", peer.Index)
	}
	defer resp.Body.Close()

	var reply Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, errors.Wrapf(err, "validator %d returned %s", peer.Index, resp.Status)
	}
	if reply.Error != nil {
		return nil, reply.Error.Err()
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("validator %d returned %s", peer.Index, resp.Status)
	}
	if reply.Validator != peer.Index {
		return nil, errors.Errorf("validator %d answered as %d", peer.Index, reply.Validator)
	}
	return reply.Payload, nil
}

// broadcast sends payload to every peer concurrently and hands each
// successful reply to accept, which runs under a lock.
func (c *Client) broadcast(ctx context.Context, messageType string, payload []byte, accept func(Peer, []byte) error) []signer.ValidatorError {
	var mu sync.Mutex
	var failed []signer.ValidatorError
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range c.peers {
		p := p
		g.Go(func() error {
			raw, err := c.SendMessage(gctx, p, messageType, payload)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				err = accept(p, raw)
			}
			if err != nil {
				c.log.Debug().Int("validator", p.Index).Err(err).Str("type", messageType).Msg("validator request failed")
				failed = append(failed, signer.ValidatorError{Validator: p.Index, Err: err})
			}
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

// SignTx collects signature shares for tx.
func (c *Client) SignTx(ctx context.Context, tx *transactions.Transaction) (map[int][]signer.SignatureShare, []signer.ValidatorError) {
	raw, err := tx.Marshal()
	if err != nil {
		return nil, c.failAll(err)
	}
	shares := make(map[int][]signer.SignatureShare)
	failed := c.broadcast(ctx, MsgSignTx, raw, func(p Peer, payload []byte) error {
		var s []signer.SignatureShare
		if err := cbor.Unmarshal(payload, &s); err != nil {
			return errors.Wrap(err, "decode shares")
		}
		shares[p.Index] = s
		return nil
	})
	return shares, failed
}

// SignRegistration collects registration responses for req.
func (c *Client) SignRegistration(ctx context.Context, req *register.Request) (map[int]*register.Response, []signer.ValidatorError) {
	raw, err := req.Marshal()
	if err != nil {
		return nil, c.failAll(err)
	}
	resps := make(map[int]*register.Response)
	failed := c.broadcast(ctx, MsgSignRegistration, raw, func(p Peer, payload []byte) error {
		var r register.Response
		if err := cbor.Unmarshal(payload, &r); err != nil {
			return errors.Wrap(err, "decode registration response")
		}
		resps[p.Index] = &r
		return nil
	})
	return resps, failed
}

func (c *Client) failAll(err error) []signer.ValidatorError {
	out := make([]signer.ValidatorError, len(c.peers))
	for i, p := range c.peers {
		out[i] = signer.ValidatorError{Validator: p.Index, Err: err}
	}
	return out
}
