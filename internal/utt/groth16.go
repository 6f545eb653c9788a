// groth16.go - SNARK range proof backend.
//
// The circuit runs over BW6-761, whose scalar field is the BLS12-377 base
// field, so BLS12-377 points are native. It proves knowledge of (v, z) with
// v < 2^bits and Gv^(v+1) · H^z = vcm · Gv. Shifting by one keeps both scalar
// multiplications away from the point at infinity.

package utt

import (
	"bytes"
	"math/big"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/std/algebra/native/sw_bls12377"
	"github.com/pkg/errors"
)

// RangeCircuit is the Groth16 statement for one value commitment.
type RangeCircuit struct {
	Shifted sw_bls12377.G1Affine `gnark:",public"`
	G       sw_bls12377.G1Affine `gnark:",public"`
	H       sw_bls12377.G1Affine `gnark:",public"`

	Value frontend.Variable
	Blind frontend.Variable

	bits int
}

func (c *RangeCircuit) Define(api frontend.API) error {
	api.ToBinary(c.Value, c.bits)

	gv := new(sw_bls12377.G1Affine)
	gv.ScalarMul(api, c.G, api.Add(c.Value, 1))
	hz := new(sw_bls12377.G1Affine)
	hz.ScalarMul(api, c.H, c.Blind)
	gv.AddAssign(api, *hz)

	api.AssertIsEqual(c.Shifted.X, gv.X)
	api.AssertIsEqual(c.Shifted.Y, gv.Y)
	return nil
}

// Groth16Range proves ranges with a circuit-specific trusted setup.
type Groth16Range struct {
	bits int
	ccs  constraint.ConstraintSystem
	pk   groth16.ProvingKey
	vk   groth16.VerifyingKey
}

// NewGroth16Range compiles the circuit and loads its keys from keyDir,
// generating them on first use.
func NewGroth16Range(bits int, keyDir string) (*Groth16Range, error) {
	ccs, err := frontend.Compile(ecc.BW6_761.ScalarField(), r1cs.NewBuilder, &RangeCircuit{bits: bits})
	if err != nil {
		return nil, errors.Wrap(err, "compile range circuit")
	}
	if err := os.MkdirAll(keyDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create key dir")
	}
	pk, vk, err := SetupOrLoadKeys(ccs,
		filepath.Join(keyDir, "range.pk"),
		filepath.Join(keyDir, "range.vk"))
	if err != nil {
		return nil, err
	}
	return &Groth16Range{bits: bits, ccs: ccs, pk: pk, vk: vk}, nil
}

func (g *Groth16Range) Name() string { return "groth16" }

func (g *Groth16Range) assignment(b ValueBases, vcm bls12377.G1Affine) RangeCircuit {
	return RangeCircuit{
		Shifted: toGnarkPoint(g1Add(vcm, b.G)),
		G:       toGnarkPoint(b.G),
		H:       toGnarkPoint(b.H),
		bits:    g.bits,
	}
}

func (g *Groth16Range) Prove(b ValueBases, v uint64, z fr.Element, _ []byte) (*RangeProof, error) {
	vcm := b.Commit(scalarFromUint64(v), z)
	assignment := g.assignment(b, vcm)
	assignment.Value = v
	assignment.Blind = z.BigInt(new(big.Int))
	w, err := frontend.NewWitness(&assignment, ecc.BW6_761.ScalarField())
	if err != nil {
		return nil, errors.Wrap(err, "range witness")
	}
	proof, err := groth16.Prove(g.ccs, g.pk, w)
	if err != nil {
		return nil, errors.Wrap(err, "range proof")
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, errors.Wrap(err, "encode range proof")
	}
	return &RangeProof{Groth16: buf.Bytes()}, nil
}

func (g *Groth16Range) Verify(b ValueBases, vcm bls12377.G1Affine, rp *RangeProof, _ []byte) error {
	if rp == nil || len(rp.Groth16) == 0 {
		return errors.Wrap(ErrInvalidTransaction, "range: missing groth16 proof")
	}
	proof := groth16.NewProof(ecc.BW6_761)
	if _, err := proof.ReadFrom(bytes.NewReader(rp.Groth16)); err != nil {
		return errors.Wrap(ErrInvalidTransaction, "range: cannot decode groth16 proof")
	}
	assignment := g.assignment(b, vcm)
	pw, err := frontend.NewWitness(&assignment, ecc.BW6_761.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return errors.Wrap(err, "range public witness")
	}
	if err := groth16.Verify(proof, g.vk, pw); err != nil {
		return errors.Wrap(ErrInvalidTransaction, "range: groth16 proof does not verify")
	}
	return nil
}

// toGnarkPoint converts a native BLS12-377 point to gnark format.
func toGnarkPoint(p bls12377.G1Affine) sw_bls12377.G1Affine {
	xBytes := p.X.Bytes()
	yBytes := p.Y.Bytes()
	return sw_bls12377.G1Affine{
		X: new(big.Int).SetBytes(xBytes[:]).String(),
		Y: new(big.Int).SetBytes(yBytes[:]).String(),
	}
}

// SaveProvingKey saves a Groth16 proving key to disk.
func SaveProvingKey(path string, pk groth16.ProvingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = pk.WriteTo(f)
	return err
}

// SaveVerifyingKey saves a Groth16 verifying key to disk.
func SaveVerifyingKey(path string, vk groth16.VerifyingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = vk.WriteTo(f)
	return err
}

// LoadProvingKey loads a Groth16 proving key from disk.
func LoadProvingKey(path string) (groth16.ProvingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pk := groth16.NewProvingKey(ecc.BW6_761)
	_, err = pk.ReadFrom(f)
	return pk, err
}

// LoadVerifyingKey loads a Groth16 verifying key from disk.
func LoadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vk := groth16.NewVerifyingKey(ecc.BW6_761)
	_, err = vk.ReadFrom(f)
	return vk, err
}

// SetupOrLoadKeys loads Groth16 keys for ccs from disk, or generates and
// saves them when either file is missing.
func SetupOrLoadKeys(ccs constraint.ConstraintSystem, pkPath, vkPath string) (groth16.ProvingKey, groth16.VerifyingKey, error) {
	pk, pkErr := LoadProvingKey(pkPath)
	vk, vkErr := LoadVerifyingKey(vkPath)
	if pkErr == nil && vkErr == nil {
		return pk, vk, nil
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, nil, errors.Wrap(err, "groth16 setup")
	}
	if err := SaveProvingKey(pkPath, pk); err != nil {
		return nil, nil, err
	}
	if err := SaveVerifyingKey(vkPath, vk); err != nil {
		return nil, nil, err
	}
	return pk, vk, nil
}
