package rpc

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"privwallet/internal/signer"
	"privwallet/internal/utt"
)

type ConfigureRequest struct {
	UserID string `json:"user_id"`
	// PrivateKey is the wallet's secret key; empty generates one.
	PrivateKey []byte `json:"private_key,omitempty"`
}

type ConfigureResponse struct {
	Succ      bool   `json:"succ"`
	PublicKey []byte `json:"public_key"`
}

type RegisterRequest struct{}

type RegisterResponse struct {
	// Request is the encoded registration request for the registrars.
	Request []byte `json:"request"`
	RCM1    []byte `json:"rcm1"`
	PID     string `json:"pid"`
}

type UpdateRegistrationRequest struct {
	// Shares are CBOR encoded utt.BlindShare values.
	Shares [][]byte `json:"shares"`
	S2     []byte   `json:"s2"`
}

type SuccessResponse struct {
	Succ bool `json:"succ"`
}

// ValidatorShares are one validator's shares, CBOR encoded.
type ValidatorShares struct {
	Validator int    `json:"validator"`
	Shares    []byte `json:"shares"`
}

type ClaimCoinsRequest struct {
	Type   string            `json:"type"`
	Tx     []byte            `json:"tx"`
	Shares []ValidatorShares `json:"sigs"`
}

type CoinInfo struct {
	Nullifier  string `json:"nullifier"`
	Value      uint64 `json:"value"`
	Type       string `json:"type"`
	Expiration uint64 `json:"expiration,omitempty"`
}

type ClaimCoinsResponse struct {
	Succ  bool       `json:"succ"`
	Coins []CoinInfo `json:"coins"`
}

type GenerateMintTxRequest struct {
	Amount uint64 `json:"amount"`
}

type GenerateBurnTxRequest struct {
	Amount uint64 `json:"amount"`
}

type GenerateTransferTxRequest struct {
	Amount             uint64 `json:"amount"`
	RecipientID        string `json:"recipient_id"`
	RecipientPublicKey []byte `json:"recipient_public_key,omitempty"`
}

type GenerateTxResponse struct {
	Tx               []byte `json:"tx"`
	TxID             string `json:"tx_id"`
	Type             string `json:"type"`
	Final            bool   `json:"final"`
	NumOfOutputCoins int    `json:"num_of_output_coins"`
}

type GetStateRequest struct{}

type GetStateResponse struct {
	UserID           string            `json:"user_id"`
	PublicKey        []byte            `json:"public_key"`
	Registered       bool              `json:"registered"`
	Balance          uint64            `json:"balance"`
	Budget           uint64            `json:"budget"`
	BudgetExpiration uint64            `json:"budget_expiration,omitempty"`
	Coins            map[string]uint64 `json:"coins"`
	Pending          bool              `json:"pending"`
}

type SetAppDataRequest struct {
	Keys   []string `json:"keys"`
	Values []string `json:"values"`
}

type GetAppDataRequest struct {
	Keys []string `json:"keys"`
}

type GetAppDataResponse struct {
	Values []string `json:"values"`
}

type AbandonTxRequest struct{}

type AbandonTxResponse struct {
	Abandoned bool `json:"abandoned"`
}

// EncodeShares packs a fan-out result for ClaimCoinsRequest.
func EncodeShares(shares map[int][]signer.SignatureShare) ([]ValidatorShares, error) {
	out := make([]ValidatorShares, 0, len(shares))
	for v, s := range shares {
		raw, err := cbor.Marshal(s)
		if err != nil {
			return nil, errors.Wrap(err, "encode shares")
		}
		out = append(out, ValidatorShares{Validator: v, Shares: raw})
	}
	return out, nil
}

// DecodeShares is the inverse of EncodeShares.
func DecodeShares(in []ValidatorShares) (map[int][]signer.SignatureShare, error) {
	out := make(map[int][]signer.SignatureShare, len(in))
	for _, vs := range in {
		var s []signer.SignatureShare
		if err := cbor.Unmarshal(vs.Shares, &s); err != nil {
			return nil, errors.Wrapf(utt.ErrInvalidArgument, "shares of validator %d: %v", vs.Validator, err)
		}
		out[vs.Validator] = append(out[vs.Validator], s...)
	}
	return out, nil
}

func coinInfos(coins []*utt.Coin) []CoinInfo {
	out := make([]CoinInfo, len(coins))
	for i, c := range coins {
		out[i] = CoinInfo{Nullifier: c.Nullifier, Value: c.Value, Type: c.Type.String(), Expiration: c.Expiration}
	}
	return out
}
