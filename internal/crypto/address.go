package crypto

import (
	"errors"
	"fmt"
	"hash"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/holiman/uint256"
	"github.com/minio/sha256-simd"
	"golang.org/x/crypto/ripemd160"

	"github.com/screa/keysearch/pkg/types"
)

const (
	// Hash160Len is the size of a RIPEMD160(SHA256(pubkey)) digest
	Hash160Len = ripemd160.Size
)

// Errors
var (
	ErrInvalidScalar = errors.New("invalid scalar: outside [1, N-1]")
	ErrDerivation    = errors.New("address derivation failed")
)

// secp256k1 group order, fixed for the life of the process
var curveOrder = uint256.MustFromBig(btcec.S256().N)

// CurveOrder returns N, the order of the secp256k1 group.
func CurveOrder() uint256.Int {
	return *curveOrder
}

// ValidScalar reports whether k is a usable private key, i.e. 0 < k < N.
func ValidScalar(k *uint256.Int) bool {
	return !k.IsZero() && k.Lt(curveOrder)
}

// Deriver maps private key candidates to address fingerprints.
// It reuses its hashers between calls, so each worker needs its own Deriver.
type Deriver struct {
	params *chaincfg.Params
	sha    hash.Hash
	rmd    hash.Hash
	scalar secp256k1.ModNScalar
	digest [32]byte
}

// NewDeriver creates a deriver rendering addresses for the given network
func NewDeriver(params *chaincfg.Params) *Deriver {
	if params == nil {
		params = &chaincfg.MainNetParams
	}
	return &Deriver{
		params: params,
		sha:    sha256.New(),
		rmd:    ripemd160.New(),
	}
}

// Params returns the network the deriver renders addresses for
func (d *Deriver) Params() *chaincfg.Params {
	return d.params
}

// Derive writes the compressed and uncompressed HASH160 fingerprints of k
// into fp. Candidates outside [1, N-1] fail with ErrInvalidScalar; they are
// never wrapped modulo N.
func (d *Deriver) Derive(k *uint256.Int, fp *types.Fingerprints) error {
	pub, err := d.publicKey(k)
	if err != nil {
		return err
	}
	if err := d.hash160Into(pub.SerializeCompressed(), fp.Compressed[:]); err != nil {
		return err
	}
	return d.hash160Into(pub.SerializeUncompressed(), fp.Uncompressed[:])
}

// Addresses returns the compressed and uncompressed P2PKH addresses of k.
// Only call when the strings are needed (e.g. for result output).
func (d *Deriver) Addresses(k *uint256.Int) (compressed, uncompressed string, err error) {
	var fp types.Fingerprints
	if err := d.Derive(k, &fp); err != nil {
		return "", "", err
	}
	if compressed, err = EncodeP2PKH(fp.Compressed[:], d.params); err != nil {
		return "", "", err
	}
	if uncompressed, err = EncodeP2PKH(fp.Uncompressed[:], d.params); err != nil {
		return "", "", err
	}
	return compressed, uncompressed, nil
}

// WIF returns the wallet import format of k for the deriver's network
func (d *Deriver) WIF(k *uint256.Int, compressed bool) (string, error) {
	if !ValidScalar(k) {
		return "", fmt.Errorf("%w: %s", ErrInvalidScalar, k.Hex())
	}
	b := k.Bytes32()
	priv, _ := btcec.PrivKeyFromBytes(b[:])
	wif, err := btcutil.NewWIF(priv, d.params, compressed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDerivation, err)
	}
	return wif.String(), nil
}

// EncodeP2PKH renders a 20-byte public key hash as a Base58Check address
func EncodeP2PKH(h160 []byte, params *chaincfg.Params) (string, error) {
	addr, err := btcutil.NewAddressPubKeyHash(h160, params)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDerivation, err)
	}
	return addr.EncodeAddress(), nil
}

// ---- helpers ----

func (d *Deriver) publicKey(k *uint256.Int) (*secp256k1.PublicKey, error) {
	if !ValidScalar(k) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidScalar, k.Hex())
	}
	b := k.Bytes32()
	if overflow := d.scalar.SetBytes(&b); overflow != 0 || d.scalar.IsZero() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidScalar, k.Hex())
	}
	return secp256k1.NewPrivateKey(&d.scalar).PubKey(), nil
}

// hash160Into computes RIPEMD160(SHA256(data)) into dst, which must hold 20 bytes
func (d *Deriver) hash160Into(data, dst []byte) error {
	d.sha.Reset()
	if _, err := d.sha.Write(data); err != nil {
		return fmt.Errorf("%w: sha256: %v", ErrDerivation, err)
	}
	sum := d.sha.Sum(d.digest[:0])

	d.rmd.Reset()
	if _, err := d.rmd.Write(sum); err != nil {
		return fmt.Errorf("%w: ripemd160: %v", ErrDerivation, err)
	}
	d.rmd.Sum(dst[:0])
	return nil
}
