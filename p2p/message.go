package p2p

import (
	"github.com/pkg/errors"

	"privwallet/internal/utt"
)

// Message types understood by a validator node.
const (
	MsgSignTx           = "sign_tx"
	MsgSignRegistration = "sign_registration"
)

// Message is the envelope for every request sent to a validator. Payload is
// the CBOR encoding of a transaction or registration request; JSON carries
// it base64 encoded.
type Message struct {
	Type     string `json:"type"`
	Payload  []byte `json:"payload"`
	SenderID string `json:"senderId"`
}

// Reply is a validator's answer. Exactly one of Payload and Error is set.
type Reply struct {
	Validator int        `json:"validator"`
	Payload   []byte     `json:"payload,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
}

// ErrorBody reports a failed request by its protocol error code.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorBody(err error) *ErrorBody {
	return &ErrorBody{Code: utt.CodeOf(err), Message: err.Error()}
}

// Err rebuilds the error on the client. Known codes wrap their sentinel.
func (b *ErrorBody) Err() error {
	if sentinel, ok := utt.ErrorByCode(b.Code); ok {
		return errors.Wrap(sentinel, b.Message)
	}
	return errors.New(b.Message)
}
