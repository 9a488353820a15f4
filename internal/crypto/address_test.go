package crypto

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/screa/keysearch/pkg/types"
)

func TestDeriveRejectsInvalidScalars(t *testing.T) {
	n := CurveOrder()
	nPlusOne := new(uint256.Int).AddUint64(&n, 1)
	max := new(uint256.Int).SetAllOne()

	tests := []struct {
		name string
		k    *uint256.Int
	}{
		{name: "zero", k: uint256.NewInt(0)},
		{name: "curve order", k: &n},
		{name: "curve order plus one", k: nPlusOne},
		{name: "all ones", k: max},
	}

	d := NewDeriver(&chaincfg.MainNetParams)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fp types.Fingerprints
			err := d.Derive(tt.k, &fp)
			require.True(t, errors.Is(err, ErrInvalidScalar), "got %v", err)
			require.False(t, ValidScalar(tt.k))

			_, _, err = d.Addresses(tt.k)
			require.ErrorIs(t, err, ErrInvalidScalar)
		})
	}
}

func TestDeriveAcceptsBoundaries(t *testing.T) {
	n := CurveOrder()
	last := new(uint256.Int).SubUint64(&n, 1)

	d := NewDeriver(nil)
	for _, k := range []*uint256.Int{uint256.NewInt(1), last} {
		var fp types.Fingerprints
		require.NoError(t, d.Derive(k, &fp))
		require.True(t, ValidScalar(k))
	}
}

func TestDeriveKnownAddresses(t *testing.T) {
	d := NewDeriver(&chaincfg.MainNetParams)
	compressed, uncompressed, err := d.Addresses(uint256.NewInt(1))
	require.NoError(t, err)
	require.Equal(t, "1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH", compressed)
	require.Equal(t, "1EHNa6Q4Jz2uvNExL497mE43ikXhwF6kZm", uncompressed)
}

func TestDeriveMatchesLibrary(t *testing.T) {
	d := NewDeriver(&chaincfg.MainNetParams)
	for _, v := range []uint64{2, 7, 9, 0xdeadbeef, 1 << 40} {
		k := uint256.NewInt(v)
		b := k.Bytes32()
		_, pub := btcec.PrivKeyFromBytes(b[:])

		var fp types.Fingerprints
		require.NoError(t, d.Derive(k, &fp))
		require.Equal(t, btcutil.Hash160(pub.SerializeCompressed()), fp.Compressed[:])
		require.Equal(t, btcutil.Hash160(pub.SerializeUncompressed()), fp.Uncompressed[:])
	}
}

func TestDeriveDeterministic(t *testing.T) {
	d := NewDeriver(&chaincfg.MainNetParams)
	other := NewDeriver(&chaincfg.MainNetParams)
	k := uint256.NewInt(0x4a7711aa5)

	var first, second, third types.Fingerprints
	require.NoError(t, d.Derive(k, &first))
	require.NoError(t, d.Derive(k, &second))
	require.NoError(t, other.Derive(k, &third))
	require.Equal(t, first, second)
	require.Equal(t, first, third)
	require.NotEqual(t, first.Compressed, first.Uncompressed)
}

func TestWIF(t *testing.T) {
	d := NewDeriver(&chaincfg.MainNetParams)

	wif, err := d.WIF(uint256.NewInt(1), true)
	require.NoError(t, err)
	require.Equal(t, "KwDiBf89QgGbjEhKnhXJuH7LrciVrZi3qYjgd9M7rFU73sVHnoWn", wif)

	wif, err = d.WIF(uint256.NewInt(1), false)
	require.NoError(t, err)
	require.Equal(t, "5HpHagT65TZzG1PH3CSu63k8DbpvD8s5ip4nEB3kEsreAnchuDf", wif)

	_, err = d.WIF(uint256.NewInt(0), true)
	require.ErrorIs(t, err, ErrInvalidScalar)
}

func TestTestnetAddresses(t *testing.T) {
	d := NewDeriver(&chaincfg.TestNet3Params)
	compressed, _, err := d.Addresses(uint256.NewInt(1))
	require.NoError(t, err)

	addr, err := btcutil.DecodeAddress(compressed, &chaincfg.TestNet3Params)
	require.NoError(t, err)
	require.True(t, addr.IsForNet(&chaincfg.TestNet3Params))
}

func BenchmarkDerive(b *testing.B) {
	d := NewDeriver(&chaincfg.MainNetParams)
	k := uint256.NewInt(1 << 40)
	var fp types.Fingerprints
	for i := 0; i < b.N; i++ {
		k.AddUint64(k, 1)
		_ = d.Derive(k, &fp)
	}
}
