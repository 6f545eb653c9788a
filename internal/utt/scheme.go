// scheme.go - Threshold Pointcheval-Sanders blind signatures (Coconut style).
//
// A Scheme signs a fixed-length attribute vector. Attributes are either public
// (seen by the signer) or hidden behind ElGamal ciphertexts of h^m. Signers
// hold Shamir shares of the secret key; F+1 unblinded shares combine with
// Lagrange coefficients into a signature under the aggregated key.

package utt

import (
	"encoding/binary"
	"sort"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/pkg/errors"
)

const blindDST = "UTT-BLIND-H-V1"

// VerificationKey is (g~^x, g~^y_1 .. g~^y_q).
type VerificationKey struct {
	Alpha Point2   `cbor:"1,keyasint"`
	Beta  []Point2 `cbor:"2,keyasint"`
}

// SigningKey is one validator's share (x_i, y_i1 .. y_iq).
type SigningKey struct {
	Index int      `cbor:"1,keyasint"`
	X     Scalar   `cbor:"2,keyasint"`
	Y     []Scalar `cbor:"3,keyasint"`
}

// Scheme holds the public side of one credential type.
type Scheme struct {
	Name  string            `cbor:"1,keyasint"`
	Bases []Point1          `cbor:"2,keyasint"`
	VK    VerificationKey   `cbor:"3,keyasint"`
	Keys  []VerificationKey `cbor:"4,keyasint"`
}

// Signature is (h, h^(x + Σ y_j m_j)).
type Signature struct {
	H Point1 `cbor:"1,keyasint"`
	S Point1 `cbor:"2,keyasint"`
}

// PublicAttr is an attribute revealed to signers or verifiers.
type PublicAttr struct {
	Index int    `cbor:"1,keyasint"`
	Value Scalar `cbor:"2,keyasint"`
}

// Ciphertext is ElGamal (g^k, γ^k h^m).
type Ciphertext struct {
	A Point1 `cbor:"1,keyasint"`
	B Point1 `cbor:"2,keyasint"`
}

// BlindRequest asks signers to sign the committed hidden attributes together
// with the public ones.
type BlindRequest struct {
	Commitment Point1       `cbor:"1,keyasint"`
	Gamma      Point1       `cbor:"2,keyasint"`
	Cipher     []Ciphertext `cbor:"3,keyasint"`
	Public     []PublicAttr `cbor:"4,keyasint"`
}

// BlindSecret is what the requester needs to finish the signature.
type BlindSecret struct {
	D Scalar   `cbor:"1,keyasint"`
	R Scalar   `cbor:"2,keyasint"`
	K []Scalar `cbor:"3,keyasint"`
}

// BlindShare is one signer's answer, still encrypted under γ.
type BlindShare struct {
	Index int    `cbor:"1,keyasint"`
	A     Point1 `cbor:"2,keyasint"`
	B     Point1 `cbor:"3,keyasint"`
}

// Show proves knowledge of a signature on partly hidden attributes.
type Show struct {
	H     Point1 `cbor:"1,keyasint"`
	S     Point1 `cbor:"2,keyasint"`
	Kappa Point2 `cbor:"3,keyasint"`
	Nu    Point1 `cbor:"4,keyasint"`
}

func newScheme(name string, q, n, t int) (*Scheme, []*SigningKey, error) {
	polys, err := randomPolys(q+1, t)
	if err != nil {
		return nil, nil, err
	}
	s := &Scheme{Name: name}
	s.Bases = make([]Point1, q)
	for j := range s.Bases {
		var tag [8]byte
		binary.BigEndian.PutUint64(tag[:], uint64(j))
		s.Bases[j] = g1(hashToG1(paramsDST, []byte(name), tag[:]))
	}
	s.VK = verificationKey(polys[0][0], constantTerms(polys[1:]))

	keys := make([]*SigningKey, n)
	s.Keys = make([]VerificationKey, n)
	for i := 0; i < n; i++ {
		k := &SigningKey{Index: i + 1, X: sc(evalPoly(polys[0], i+1)), Y: make([]Scalar, q)}
		ys := make([]fr.Element, q)
		for j := 0; j < q; j++ {
			ys[j] = evalPoly(polys[j+1], i+1)
			k.Y[j] = sc(ys[j])
		}
		keys[i] = k
		s.Keys[i] = verificationKey(k.X.Element, ys)
	}
	return s, keys, nil
}

func constantTerms(polys [][]fr.Element) []fr.Element {
	out := make([]fr.Element, len(polys))
	for i := range polys {
		out[i] = polys[i][0]
	}
	return out
}

func verificationKey(x fr.Element, ys []fr.Element) VerificationKey {
	vk := VerificationKey{Alpha: g2(g2Mul(&g2Gen, &x)), Beta: make([]Point2, len(ys))}
	for j := range ys {
		vk.Beta[j] = g2(g2Mul(&g2Gen, &ys[j]))
	}
	return vk
}

// Size is the number of attributes the scheme signs.
func (s *Scheme) Size() int { return len(s.Bases) }

func (s *Scheme) check(q, n int) error {
	if len(s.Bases) != q || len(s.VK.Beta) != q || len(s.Keys) != n {
		return errors.Errorf("params: scheme %q has wrong dimensions", s.Name)
	}
	for i := range s.Keys {
		if len(s.Keys[i].Beta) != q {
			return errors.Errorf("params: scheme %q key %d has wrong dimensions", s.Name, i+1)
		}
	}
	return nil
}

func (s *Scheme) matches(k *SigningKey) bool {
	if k.Index < 1 || k.Index > len(s.Keys) || len(k.Y) != s.Size() {
		return false
	}
	ys := make([]fr.Element, len(k.Y))
	for j := range k.Y {
		ys[j] = k.Y[j].Element
	}
	vk := verificationKey(k.X.Element, ys)
	want := s.Keys[k.Index-1]
	if !vk.Alpha.Equal(&want.Alpha.G2Affine) {
		return false
	}
	for j := range vk.Beta {
		if !vk.Beta[j].Equal(&want.Beta[j].G2Affine) {
			return false
		}
	}
	return true
}

// hiddenIndices returns the attribute positions not listed in public, ascending.
func (s *Scheme) hiddenIndices(public []PublicAttr) ([]int, error) {
	seen := make(map[int]bool, len(public))
	for _, a := range public {
		if a.Index < 0 || a.Index >= s.Size() || seen[a.Index] {
			return nil, errors.Errorf("%s: bad public attribute %d", s.Name, a.Index)
		}
		seen[a.Index] = true
	}
	var hidden []int
	for j := 0; j < s.Size(); j++ {
		if !seen[j] {
			hidden = append(hidden, j)
		}
	}
	return hidden, nil
}

// H derives the signature base bound to the commitment and public attributes.
func (r *BlindRequest) H() bls12377.G1Affine {
	pub := make([]PublicAttr, len(r.Public))
	copy(pub, r.Public)
	sort.Slice(pub, func(i, j int) bool { return pub[i].Index < pub[j].Index })
	cm := r.Commitment.Bytes()
	parts := [][]byte{cm[:]}
	for _, a := range pub {
		var idx [8]byte
		binary.BigEndian.PutUint64(idx[:], uint64(a.Index))
		v := a.Value.Bytes()
		parts = append(parts, idx[:], v[:])
	}
	return hashToG1(blindDST, parts...)
}

// PrepareBlind commits to attrs (full vector) and encrypts the hidden ones.
// Attributes listed in public are sent in the clear.
func (s *Scheme) PrepareBlind(attrs []fr.Element, public []int) (*BlindRequest, *BlindSecret, error) {
	if len(attrs) != s.Size() {
		return nil, nil, errors.Errorf("%s: expected %d attributes, got %d", s.Name, s.Size(), len(attrs))
	}
	req := &BlindRequest{}
	for _, j := range public {
		if j < 0 || j >= s.Size() {
			return nil, nil, errors.Errorf("%s: bad public attribute %d", s.Name, j)
		}
		req.Public = append(req.Public, PublicAttr{Index: j, Value: sc(attrs[j])})
	}
	hidden, err := s.hiddenIndices(req.Public)
	if err != nil {
		return nil, nil, err
	}
	d, err := randomScalar()
	if err != nil {
		return nil, nil, err
	}
	r, err := randomScalar()
	if err != nil {
		return nil, nil, err
	}
	sec := &BlindSecret{D: sc(d), R: sc(r)}
	req.Gamma = g1(g1Mul(&g1Gen, &d))

	bases := []bls12377.G1Affine{g1Gen}
	scalars := []fr.Element{r}
	for _, j := range hidden {
		bases = append(bases, s.Bases[j].G1Affine)
		scalars = append(scalars, attrs[j])
	}
	req.Commitment = g1(g1MultiExp(bases, scalars))

	h := req.H()
	for _, j := range hidden {
		k, err := randomScalar()
		if err != nil {
			return nil, nil, err
		}
		sec.K = append(sec.K, sc(k))
		gk := g1Mul(&req.Gamma.G1Affine, &k)
		hm := g1Mul(&h, &attrs[j])
		req.Cipher = append(req.Cipher, Ciphertext{
			A: g1(g1Mul(&g1Gen, &k)),
			B: g1(g1Add(gk, hm)),
		})
	}
	return req, sec, nil
}

// CommitHidden recomputes the commitment for an opening; used by recipients to
// check that a decrypted opening matches the request they were given.
func (s *Scheme) CommitHidden(attrs []fr.Element, r fr.Element, public []PublicAttr) (bls12377.G1Affine, error) {
	hidden, err := s.hiddenIndices(public)
	if err != nil {
		return bls12377.G1Affine{}, err
	}
	bases := []bls12377.G1Affine{g1Gen}
	scalars := []fr.Element{r}
	for _, j := range hidden {
		bases = append(bases, s.Bases[j].G1Affine)
		scalars = append(scalars, attrs[j])
	}
	return g1MultiExp(bases, scalars), nil
}

// BindRequest adds the well-formedness statements of req to rel. attrs holds
// one witness per hidden attribute and ks one per ciphertext.
func (s *Scheme) BindRequest(rel *Relation, req *BlindRequest, r Witness, attrs, ks []Witness) error {
	hidden, err := s.hiddenIndices(req.Public)
	if err != nil {
		return err
	}
	if len(attrs) != len(hidden) || len(ks) != len(hidden) || len(req.Cipher) != len(hidden) {
		return errors.Wrapf(ErrInvalidTransaction, "%s: request shape mismatch", s.Name)
	}
	bases := []bls12377.G1Affine{g1Gen}
	for _, j := range hidden {
		bases = append(bases, s.Bases[j].G1Affine)
	}
	rel.G1(req.Commitment.G1Affine, bases, append([]Witness{r}, attrs...)...)
	h := req.H()
	for i := range hidden {
		rel.G1(req.Cipher[i].A.G1Affine, []bls12377.G1Affine{g1Gen}, ks[i])
		rel.G1(req.Cipher[i].B.G1Affine, []bls12377.G1Affine{req.Gamma.G1Affine, h}, ks[i], attrs[i])
	}
	return nil
}

// BlindSign produces key's share for req. The request proof must already have
// been checked by the caller. Each shift adds a signer-chosen public value to
// a hidden attribute, so the signature covers m_j + shift_j.
func (s *Scheme) BlindSign(key *SigningKey, req *BlindRequest, shifts ...PublicAttr) (*BlindShare, error) {
	if len(key.Y) != s.Size() {
		return nil, errors.Errorf("%s: key has wrong size", s.Name)
	}
	hidden, err := s.hiddenIndices(req.Public)
	if err != nil {
		return nil, err
	}
	if len(req.Cipher) != len(hidden) {
		return nil, errors.Wrapf(ErrInvalidTransaction, "%s: ciphertext count mismatch", s.Name)
	}
	h := req.H()
	exp := key.X.Element
	for _, a := range append(append([]PublicAttr{}, req.Public...), shifts...) {
		if a.Index < 0 || a.Index >= s.Size() {
			return nil, errors.Errorf("%s: bad attribute %d", s.Name, a.Index)
		}
		var t fr.Element
		t.Mul(&key.Y[a.Index].Element, &a.Value.Element)
		exp.Add(&exp, &t)
	}
	aTerms := make([]bls12377.G1Affine, 0, len(hidden))
	bTerms := []bls12377.G1Affine{g1Mul(&h, &exp)}
	for i, j := range hidden {
		y := key.Y[j].Element
		aTerms = append(aTerms, g1Mul(&req.Cipher[i].A.G1Affine, &y))
		bTerms = append(bTerms, g1Mul(&req.Cipher[i].B.G1Affine, &y))
	}
	return &BlindShare{Index: key.Index, A: g1(g1Add(aTerms...)), B: g1(g1Add(bTerms...))}, nil
}

// Unblind removes the ElGamal layer: B · A^(-d).
func (b *BlindShare) Unblind(d fr.Element) bls12377.G1Affine {
	ad := g1Mul(&b.A.G1Affine, &d)
	return g1Sub(b.B.G1Affine, ad)
}

func (s *Scheme) aggregateKey(vk VerificationKey, attrs []fr.Element) bls12377.G2Affine {
	bases := make([]bls12377.G2Affine, len(attrs))
	for j := range attrs {
		bases[j] = vk.Beta[j].G2Affine
	}
	return g2Add(vk.Alpha.G2Affine, g2MultiExp(bases, attrs))
}

// VerifyShare checks an unblinded share against the verification key of
// validator index.
func (s *Scheme) VerifyShare(index int, h, sigma bls12377.G1Affine, attrs []fr.Element) bool {
	if index < 1 || index > len(s.Keys) || len(attrs) != s.Size() || h.IsInfinity() {
		return false
	}
	return pairingCheckEqual(h, s.aggregateKey(s.Keys[index-1], attrs), sigma, g2Gen)
}

// Verify checks a full signature on attrs.
func (s *Scheme) Verify(sig *Signature, attrs []fr.Element) bool {
	if sig == nil || len(attrs) != s.Size() || sig.H.IsInfinity() {
		return false
	}
	return pairingCheckEqual(sig.H.G1Affine, s.aggregateKey(s.VK, attrs), sig.S.G1Affine, g2Gen)
}

// Combine interpolates unblinded shares keyed by validator index.
func Combine(shares map[int]bls12377.G1Affine) bls12377.G1Affine {
	indices := make([]int, 0, len(shares))
	for i := range shares {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	lambdas := lagrangeAtZero(indices)
	points := make([]bls12377.G1Affine, len(indices))
	for k, i := range indices {
		points[k] = shares[i]
	}
	return g1MultiExp(points, lambdas)
}

// Randomize returns an unlinkable copy of sig.
func (sig *Signature) Randomize() (*Signature, error) {
	rho, err := randomScalar()
	if err != nil {
		return nil, err
	}
	return &Signature{
		H: g1(g1Mul(&sig.H.G1Affine, &rho)),
		S: g1(g1Mul(&sig.S.G1Affine, &rho)),
	}, nil
}

// Clone returns a deep copy.
func (sig *Signature) Clone() *Signature {
	if sig == nil {
		return nil
	}
	c := *sig
	return &c
}

// NewShow randomizes sig and commits to attrs. The returned scalar is the
// show blinding t that the caller binds as a witness.
func (s *Scheme) NewShow(sig *Signature, attrs []fr.Element) (*Show, fr.Element, error) {
	var t fr.Element
	if len(attrs) != s.Size() {
		return nil, t, errors.Errorf("%s: expected %d attributes", s.Name, s.Size())
	}
	rs, err := sig.Randomize()
	if err != nil {
		return nil, t, err
	}
	if t, err = randomScalar(); err != nil {
		return nil, t, err
	}
	kappa := g2Add(s.aggregateKey(s.VK, attrs), g2Mul(&g2Gen, &t))
	return &Show{
		H:     rs.H,
		S:     rs.S,
		Kappa: g2(kappa),
		Nu:    g1(g1Mul(&rs.H.G1Affine, &t)),
	}, t, nil
}

// BindShow adds the statements tying show to hidden witnesses (one per hidden
// attribute, ascending) and the blinding witness t.
func (s *Scheme) BindShow(rel *Relation, show *Show, public []PublicAttr, attrs []Witness, t Witness) error {
	hidden, err := s.hiddenIndices(public)
	if err != nil {
		return err
	}
	if len(attrs) != len(hidden) {
		return errors.Wrapf(ErrInvalidTransaction, "%s: show shape mismatch", s.Name)
	}
	// κ · α~^-1 · Π_public β~_j^-m_j = Π_hidden β~_j^m_j · g~^t
	lhs := g2Sub(show.Kappa.G2Affine, s.VK.Alpha.G2Affine)
	for _, a := range public {
		v := a.Value.Element
		lhs = g2Sub(lhs, g2Mul(&s.VK.Beta[a.Index].G2Affine, &v))
	}
	bases := make([]bls12377.G2Affine, 0, len(hidden)+1)
	for _, j := range hidden {
		bases = append(bases, s.VK.Beta[j].G2Affine)
	}
	bases = append(bases, g2Gen)
	rel.G2(lhs, bases, append(append([]Witness{}, attrs...), t)...)
	rel.G1(show.Nu.G1Affine, []bls12377.G1Affine{show.H.G1Affine}, t)
	return nil
}

// VerifyShow runs the pairing check e(H, κ) = e(S·ν, g~).
func (s *Scheme) VerifyShow(show *Show) bool {
	if show == nil || show.H.IsInfinity() {
		return false
	}
	sn := g1Add(show.S.G1Affine, show.Nu.G1Affine)
	return pairingCheckEqual(show.H.G1Affine, show.Kappa.G2Affine, sn, g2Gen)
}

func g2Sub(a, b bls12377.G2Affine) bls12377.G2Affine {
	return g2Add(a, g2Neg(b))
}
