// params.go - Public parameters and trusted-dealer key generation.
//
// GlobalParams is created once by Setup (or loaded from disk) and is immutable
// afterwards; every component receives it explicitly.

package utt

import (
	"fmt"
	"os"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

const paramsDST = "UTT-PARAMS-V1"

// Coin attribute positions.
const (
	AttrPID = iota
	AttrSN
	AttrValue
	AttrType
	AttrExpiration
	numCoinAttrs
)

// Registration attribute positions.
const (
	RegAttrPID = iota
	RegAttrPRF
	numRegAttrs
)

const (
	DefaultMaxInputs = 2
	DefaultRangeBits = 64
)

// SetupConfig describes a new deployment.
type SetupConfig struct {
	N         int
	F         int
	UseBudget bool
	MaxInputs int
	RangeBits int
}

// GlobalParams are the public parameters shared by wallets and validators.
type GlobalParams struct {
	N         int  `cbor:"1,keyasint"`
	F         int  `cbor:"2,keyasint"`
	UseBudget bool `cbor:"3,keyasint"`
	MaxInputs int  `cbor:"4,keyasint"`
	RangeBits int  `cbor:"5,keyasint"`

	Coin         *Scheme `cbor:"6,keyasint"`
	Registration *Scheme `cbor:"7,keyasint"`

	ValueBase     Point1 `cbor:"8,keyasint"`
	BlindBase     Point1 `cbor:"9,keyasint"`
	NullifierBase Point1 `cbor:"10,keyasint"`

	// Range is attached at load time and never serialized.
	Range RangeBackend `cbor:"-"`

	id []byte
}

// ValidatorKey is the secret material of one validator.
type ValidatorKey struct {
	Index        int         `cbor:"1,keyasint"`
	Coin         *SigningKey `cbor:"2,keyasint"`
	Registration *SigningKey `cbor:"3,keyasint"`
}

// Option customizes params at load time.
type Option func(*GlobalParams)

// WithRangeBackend replaces the default sigma range proofs.
func WithRangeBackend(b RangeBackend) Option {
	return func(p *GlobalParams) { p.Range = b }
}

func (c SetupConfig) withDefaults() SetupConfig {
	if c.MaxInputs == 0 {
		c.MaxInputs = DefaultMaxInputs
	}
	if c.RangeBits == 0 {
		c.RangeBits = DefaultRangeBits
	}
	return c
}

// Setup runs a trusted dealer: it samples the coin and registration keys,
// Shamir-shares them with threshold F+1 among N validators and derives every
// public base by hashing.
func Setup(cfg SetupConfig, opts ...Option) (*GlobalParams, []*ValidatorKey, error) {
	cfg = cfg.withDefaults()
	p := &GlobalParams{
		N:         cfg.N,
		F:         cfg.F,
		UseBudget: cfg.UseBudget,
		MaxInputs: cfg.MaxInputs,
		RangeBits: cfg.RangeBits,
	}
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}

	coin, coinKeys, err := newScheme("coin", numCoinAttrs, p.N, p.Threshold())
	if err != nil {
		return nil, nil, err
	}
	reg, regKeys, err := newScheme("registration", numRegAttrs, p.N, p.Threshold())
	if err != nil {
		return nil, nil, err
	}
	p.Coin, p.Registration = coin, reg
	p.ValueBase = g1(hashToG1(paramsDST, []byte("value")))
	p.BlindBase = g1(hashToG1(paramsDST, []byte("blind")))
	p.NullifierBase = g1(hashToG1(paramsDST, []byte("nullifier")))

	keys := make([]*ValidatorKey, p.N)
	for i := range keys {
		keys[i] = &ValidatorKey{Index: i + 1, Coin: coinKeys[i], Registration: regKeys[i]}
	}
	if err := p.finish(opts...); err != nil {
		return nil, nil, err
	}
	return p, keys, nil
}

// Threshold is the number of shares needed to assemble a signature.
func (p *GlobalParams) Threshold() int { return p.F + 1 }

// Validate checks the structural parameters.
func (p *GlobalParams) Validate() error {
	if p.F < 0 {
		return errors.New("params: f must not be negative")
	}
	if p.N != 3*p.F+1 {
		return errors.Errorf("params: n must be 3f+1, got n=%d f=%d", p.N, p.F)
	}
	if p.MaxInputs < 2 {
		return errors.New("params: max inputs must be at least 2")
	}
	if p.RangeBits < 1 || p.RangeBits > 64 {
		return errors.New("params: range bits must be in [1, 64]")
	}
	return nil
}

func (p *GlobalParams) finish(opts ...Option) error {
	for _, o := range opts {
		o(p)
	}
	if p.Range == nil {
		p.Range = NewSigmaRange(p.RangeBits)
	}
	raw, err := p.Marshal()
	if err != nil {
		return err
	}
	p.id = Digest(paramsDST, raw)
	return nil
}

// ID identifies the parameter set; proofs are bound to it.
func (p *GlobalParams) ID() []byte { return p.id }

// Marshal encodes the public parameters.
func (p *GlobalParams) Marshal() ([]byte, error) {
	return cbor.Marshal(p)
}

// LoadParams decodes public parameters.
func LoadParams(data []byte, opts ...Option) (*GlobalParams, error) {
	var p GlobalParams
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(err, "decode params")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Coin == nil || p.Registration == nil {
		return nil, errors.New("params: missing signature schemes")
	}
	if err := p.Coin.check(numCoinAttrs, p.N); err != nil {
		return nil, err
	}
	if err := p.Registration.check(numRegAttrs, p.N); err != nil {
		return nil, err
	}
	if err := p.finish(opts...); err != nil {
		return nil, err
	}
	return &p, nil
}

// SaveParamsFile writes the public parameters to path.
func SaveParamsFile(p *GlobalParams, path string) error {
	raw, err := p.Marshal()
	if err != nil {
		return err
	}
	return errors.Wrap(os.WriteFile(path, raw, 0o644), "write params")
}

// LoadParamsFile reads public parameters from path.
func LoadParamsFile(path string, opts ...Option) (*GlobalParams, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read params")
	}
	return LoadParams(raw, opts...)
}

// SaveValidatorKey writes one validator's secret key with owner-only permissions.
func SaveValidatorKey(k *ValidatorKey, path string) error {
	raw, err := cbor.Marshal(k)
	if err != nil {
		return err
	}
	return errors.Wrap(os.WriteFile(path, raw, 0o600), "write validator key")
}

// LoadValidatorKey reads a validator key and checks it against p.
func LoadValidatorKey(p *GlobalParams, path string) (*ValidatorKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read validator key")
	}
	var k ValidatorKey
	if err := cbor.Unmarshal(raw, &k); err != nil {
		return nil, errors.Wrap(err, "decode validator key")
	}
	if k.Index < 1 || k.Index > p.N || k.Coin == nil || k.Registration == nil {
		return nil, errors.Errorf("validator key: bad index %d", k.Index)
	}
	if !p.Coin.matches(k.Coin) || !p.Registration.matches(k.Registration) {
		return nil, errors.New("validator key does not match params")
	}
	return &k, nil
}

// randomPolys samples count polynomials of degree t-1.
func randomPolys(count, t int) ([][]fr.Element, error) {
	polys := make([][]fr.Element, count)
	for i := range polys {
		polys[i] = make([]fr.Element, t)
		for j := range polys[i] {
			e, err := randomScalar()
			if err != nil {
				return nil, err
			}
			polys[i][j] = e
		}
	}
	return polys, nil
}

func (p *GlobalParams) String() string {
	return fmt.Sprintf("params(n=%d f=%d budget=%t maxInputs=%d rangeBits=%d)",
		p.N, p.F, p.UseBudget, p.MaxInputs, p.RangeBits)
}
