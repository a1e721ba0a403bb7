package orderclient

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Credentials is a wallet private key plus the chain it signs for.
// This is the L1 (wallet-ownership) signing scheme, distinct from the L2
// HMACCredentials scheme NewHMACSigner demonstrates: an exchange may
// accept either, or use L1 only once to derive L2 API keys out of band.
type EIP712Credentials struct {
	PrivateKeyHex string
	ChainID       int64
}

// NewEIP712Signer builds a Signer that proves wallet ownership by
// signing a ClobAuth-shaped EIP-712 typed-data message with the wallet's
// private key, independent of method/path/body — exchanges that accept
// wallet-signature auth validate the signature and timestamp alone, not
// a per-request digest the way the HMAC scheme does.
func NewEIP712Signer(creds EIP712Credentials) (Signer, error) {
	keyHex := creds.PrivateKeyHex
	if len(keyHex) >= 2 && keyHex[:2] == "0x" {
		keyHex = keyHex[2:]
	}
	privateKey, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	address := crypto.PubkeyToAddress(privateKey.PublicKey)
	chainID := big.NewInt(creds.ChainID)

	return func(ctx context.Context, method, path string, body []byte) (map[string]string, error) {
		timestamp := strconv.FormatInt(time.Now().Unix(), 10)
		sig, err := signClobAuth(privateKey, address, chainID, timestamp)
		if err != nil {
			return nil, fmt.Errorf("sign clob auth: %w", err)
		}
		return map[string]string{
			"POLY_ADDRESS":   address.Hex(),
			"POLY_SIGNATURE": sig,
			"POLY_TIMESTAMP": timestamp,
		}, nil
	}, nil
}

// signClobAuth reproduces the ClobAuthDomain EIP-712 typed-data
// signature: a wallet attests control of its address for a given
// timestamp, independent of which request it later authorizes.
func signClobAuth(privateKey *ecdsa.PrivateKey, address common.Address, chainID *big.Int, timestamp string) (string, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"ClobAuth": {
				{Name: "address", Type: "address"},
				{Name: "timestamp", Type: "string"},
				{Name: "message", Type: "string"},
			},
		},
		PrimaryType: "ClobAuth",
		Domain: apitypes.TypedDataDomain{
			Name:    "ClobAuthDomain",
			Version: "1",
			ChainId: (*ethmath.HexOrDecimal256)(new(big.Int).Set(chainID)),
		},
		Message: apitypes.TypedDataMessage{
			"address":   address.Hex(),
			"timestamp": timestamp,
			"message":   "This message attests that I control the given wallet",
		},
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return "", fmt.Errorf("typed data hash: %w", err)
	}

	sig, err := crypto.Sign(hash, privateKey)
	if err != nil {
		return "", fmt.Errorf("sign typed data: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + common.Bytes2Hex(sig), nil
}
