// Package register implements the two-phase registration of a user.
//
// Phase one: the client commits to (pid, s1), encrypts s1 under a fresh
// ElGamal key and proves the request well formed. Each registrar checks the
// proof, derives s2 from (pid, rcm1) and returns a blind share of a signature
// on (pid, s1+s2). Phase two: the client unblinds and combines F+1 shares into
// a credential on (pid, s) with s = s1+s2, the PRF key behind its nullifiers.
package register

import (
	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"privwallet/internal/utt"
)

// Request is what the client sends to every registrar.
type Request struct {
	Identity  string           `cbor:"1,keyasint"`
	PublicKey []byte           `cbor:"2,keyasint"`
	Blind     utt.BlindRequest `cbor:"3,keyasint"`
	Proof     *utt.Proof       `cbor:"4,keyasint"`
}

// Pending is the client-side secret state between the two phases.
type Pending struct {
	Identity string          `cbor:"1,keyasint"`
	PID      utt.Scalar      `cbor:"2,keyasint"`
	S1       utt.Scalar      `cbor:"3,keyasint"`
	Secret   utt.BlindSecret `cbor:"4,keyasint"`
	Request  *Request        `cbor:"5,keyasint"`
}

// Response is one registrar's answer.
type Response struct {
	Share utt.BlindShare `cbor:"1,keyasint"`
	S2    utt.Scalar     `cbor:"2,keyasint"`
}

// Credential is the final registration commitment: a signature on (pid, s)
// and a fresh commitment to both, unlinkable to rcm1 without s2.
type Credential struct {
	PID        utt.Scalar     `cbor:"1,keyasint"`
	PRFKey     utt.Scalar     `cbor:"2,keyasint"`
	Sig        *utt.Signature `cbor:"3,keyasint"`
	Commitment utt.Point1     `cbor:"4,keyasint"`
}

// Marshal encodes a request for transport.
func (r *Request) Marshal() ([]byte, error) { return cbor.Marshal(r) }

// UnmarshalRequest decodes a request.
func UnmarshalRequest(data []byte) (*Request, error) {
	var r Request
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrap(utt.ErrInvalidRegistration, err.Error())
	}
	return &r, nil
}

// RCM1 is the phase-one commitment.
func (r *Request) RCM1() utt.Point1 { return r.Blind.Commitment }

func requestContext(p *utt.GlobalParams, identity string, publicKey []byte) []byte {
	return utt.Digest("UTT-REGISTER-V1", p.ID(), []byte(identity), publicKey)
}

func relation(p *utt.GlobalParams, req *Request, sec *Pending) (*utt.Relation, error) {
	var r, s1, k fr.Element
	if sec != nil {
		r, s1, k = sec.Secret.R.Element, sec.S1.Element, sec.Secret.K[0].Element
	}
	rel := utt.NewRelation("UTT-RCM1-V1")
	wR := rel.Witness(r)
	wS1 := rel.Witness(s1)
	wK := rel.Witness(k)
	if err := p.Registration.BindRequest(rel, &req.Blind, wR, []utt.Witness{wS1}, []utt.Witness{wK}); err != nil {
		return nil, err
	}
	return rel, nil
}

// Begin starts a registration for identity. Every call draws fresh s1 and
// fresh commitment randomness.
func Begin(p *utt.GlobalParams, identity string, publicKey []byte) (*Request, *Pending, error) {
	if identity == "" {
		return nil, nil, errors.Wrap(utt.ErrInvalidRegistration, "empty identity")
	}
	pid := utt.HashPID(identity)
	var s1 fr.Element
	if _, err := s1.SetRandom(); err != nil {
		return nil, nil, errors.Wrap(err, "sample s1")
	}
	blind, sec, err := p.Registration.PrepareBlind([]fr.Element{pid, s1}, []int{utt.RegAttrPID})
	if err != nil {
		return nil, nil, err
	}
	req := &Request{Identity: identity, PublicKey: append([]byte(nil), publicKey...), Blind: *blind}
	pending := &Pending{
		Identity: identity,
		PID:      utt.Scalar{Element: pid},
		S1:       utt.Scalar{Element: s1},
		Secret:   *sec,
		Request:  req,
	}
	rel, err := relation(p, req, pending)
	if err != nil {
		return nil, nil, err
	}
	if req.Proof, err = rel.Prove(requestContext(p, identity, publicKey)); err != nil {
		return nil, nil, err
	}
	return req, pending, nil
}

// Verify checks a request on the registrar side.
func Verify(p *utt.GlobalParams, req *Request) error {
	if req == nil || req.Identity == "" {
		return errors.Wrap(utt.ErrInvalidRegistration, "empty identity")
	}
	pid := utt.HashPID(req.Identity)
	if len(req.Blind.Public) != 1 || req.Blind.Public[0].Index != utt.RegAttrPID || !req.Blind.Public[0].Value.Equal(&pid) {
		return errors.Wrap(utt.ErrInvalidRegistration, "request does not name the identity's pid")
	}
	rel, err := relation(p, req, nil)
	if err != nil {
		return errors.Wrap(utt.ErrInvalidRegistration, err.Error())
	}
	if err := rel.Verify(req.Proof, requestContext(p, req.Identity, req.PublicKey)); err != nil {
		return errors.Wrap(utt.ErrInvalidRegistration, err.Error())
	}
	return nil
}

// Sign verifies req and returns key's share of the registration signature.
func Sign(p *utt.GlobalParams, key *utt.SigningKey, req *Request) (*Response, error) {
	if err := Verify(p, req); err != nil {
		return nil, err
	}
	pid := utt.HashPID(req.Identity)
	s2 := utt.DeriveS2(pid, req.RCM1())
	share, err := p.Registration.BlindSign(key, &req.Blind, utt.PublicAttr{Index: utt.RegAttrPRF, Value: utt.Scalar{Element: s2}})
	if err != nil {
		return nil, err
	}
	return &Response{Share: *share, S2: utt.Scalar{Element: s2}}, nil
}

// Finalize unblinds the registrars' shares, keeps those that verify under
// their registrar's key, and combines F+1 of them into the credential.
func Finalize(p *utt.GlobalParams, pending *Pending, shares []utt.BlindShare, s2 utt.Scalar) (*Credential, error) {
	if pending == nil || pending.Request == nil {
		return nil, utt.ErrRegistrationState
	}
	var s fr.Element
	s.Add(&pending.S1.Element, &s2.Element)
	attrs := []fr.Element{pending.PID.Element, s}
	h := pending.Request.Blind.H()

	valid := make(map[int]bls12377.G1Affine)
	for i := range shares {
		sh := shares[i]
		if _, dup := valid[sh.Index]; dup {
			continue
		}
		sigma := sh.Unblind(pending.Secret.D.Element)
		if p.Registration.VerifyShare(sh.Index, h, sigma, attrs) {
			valid[sh.Index] = sigma
		}
	}
	if len(valid) < p.Threshold() {
		return nil, errors.Wrapf(utt.ErrIncompleteClaim, "registration: %d valid shares, need %d", len(valid), p.Threshold())
	}
	for len(valid) > p.Threshold() {
		for i := range valid {
			delete(valid, i)
			break
		}
	}
	sig := &utt.Signature{H: utt.Point1{G1Affine: h}, S: utt.Point1{G1Affine: utt.Combine(valid)}}
	if !p.Registration.Verify(sig, attrs) {
		return nil, errors.Wrap(utt.ErrIncompleteClaim, "registration: combined signature does not verify")
	}
	rsig, err := sig.Randomize()
	if err != nil {
		return nil, err
	}
	var r fr.Element
	if _, err := r.SetRandom(); err != nil {
		return nil, errors.Wrap(err, "sample commitment randomness")
	}
	cm, err := p.Registration.CommitHidden(attrs, r, nil)
	if err != nil {
		return nil, err
	}
	return &Credential{
		PID:        pending.PID,
		PRFKey:     utt.Scalar{Element: s},
		Sig:        rsig,
		Commitment: utt.Point1{G1Affine: cm},
	}, nil
}
