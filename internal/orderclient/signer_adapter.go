package orderclient

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// HMACCredentials is the L2 API credential triple an exchange issues
// after an out-of-band L1 (wallet) authentication step that this
// package does not perform — credential derivation and storage are the
// caller's concern, not the order client's.
type HMACCredentials struct {
	ApiKey     string
	Secret     string
	Passphrase string
	Address    string
}

// NewHMACSigner builds a Signer that reproduces the HMAC-SHA256
// request-signing scheme: signature = base64(HMAC-SHA256(secret,
// timestamp+method+path+body)). This is one concrete Signer
// implementation demonstrating the contract Client expects; it is not
// part of the order client's public surface and callers are free to
// supply any Signer that can authenticate a request.
func NewHMACSigner(creds HMACCredentials) Signer {
	return func(ctx context.Context, method, path string, body []byte) (map[string]string, error) {
		timestamp := strconv.FormatInt(time.Now().Unix(), 10)

		secretBytes, err := decodeSecret(creds.Secret)
		if err != nil {
			return nil, fmt.Errorf("decode secret: %w", err)
		}

		message := timestamp + method + path
		if len(body) > 0 {
			message += string(body)
		}

		mac := hmac.New(sha256.New, secretBytes)
		mac.Write([]byte(message))
		sig := base64.URLEncoding.EncodeToString(mac.Sum(nil))

		return map[string]string{
			"POLY_ADDRESS":    creds.Address,
			"POLY_SIGNATURE":  sig,
			"POLY_TIMESTAMP":  timestamp,
			"POLY_API_KEY":    creds.ApiKey,
			"POLY_PASSPHRASE": creds.Passphrase,
		}, nil
	}
}

// decodeSecret tries each of the base64 variants an exchange's issued
// secret might use, since different issuers pad/url-encode differently.
func decodeSecret(secret string) ([]byte, error) {
	decoders := []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}
	var lastErr error
	for _, dec := range decoders {
		if b, err := dec.DecodeString(secret); err == nil {
			return b, nil
		} else {
			lastErr = err
		}
	}
	return nil, lastErr
}
