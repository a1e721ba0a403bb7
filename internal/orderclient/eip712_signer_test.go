package orderclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// testPrivateKeyHex is the scalar 1 on secp256k1, a standard fixture
// used across go-ethereum's own tests; it is not a real fund-holding key.
const testPrivateKeyHex = "0000000000000000000000000000000000000000000000000000000000000001"

func TestNewEIP712SignerProducesAddressAndSignature(t *testing.T) {
	t.Parallel()
	signer, err := NewEIP712Signer(EIP712Credentials{PrivateKeyHex: testPrivateKeyHex, ChainID: 137})
	require.NoError(t, err)

	headers, err := signer(context.Background(), "POST", "/order", []byte(`{}`))
	require.NoError(t, err)
	require.Equal(t, "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf", headers["POLY_ADDRESS"])
	require.NotEmpty(t, headers["POLY_SIGNATURE"])
	require.NotEmpty(t, headers["POLY_TIMESTAMP"])
}

func TestNewEIP712SignerRejectsMalformedKey(t *testing.T) {
	t.Parallel()
	_, err := NewEIP712Signer(EIP712Credentials{PrivateKeyHex: "not-hex", ChainID: 137})
	require.Error(t, err)
}
