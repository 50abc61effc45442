package crypto

import (
	"crypto/ecdsa"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Headers carrying a signed request.
const (
	HeaderAddress   = "X-Prediction-Address"
	HeaderTimestamp = "X-Prediction-Timestamp"
	HeaderSignature = "X-Prediction-Signature"
)

var (
	ErrMissingSignature = errors.New("missing request signature")
	ErrBadSignature     = errors.New("request signature does not match address")
	ErrExpiredSignature = errors.New("request timestamp outside allowed skew")
)

// RequestDigest returns the message a caller signs for a request:
//
//	METHOD \n PATH \n TIMESTAMP \n hex(keccak256(body))
func RequestDigest(method, path string, timestamp int64, body []byte) []byte {
	return []byte(strings.ToUpper(method) + "\n" + path + "\n" +
		strconv.FormatInt(timestamp, 10) + "\n" +
		hex.EncodeToString(ethcrypto.Keccak256(body)))
}

// Signer signs API requests with a secp256k1 key using EIP-191 personal
// messages.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner wraps key.
func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key, address: ethcrypto.PubkeyToAddress(key.PublicKey)}
}

// Address returns the identity derived from the signer's key.
func (s *Signer) Address() common.Address {
	return s.address
}

// Sign returns the hex signature (r || s || v, v in {27, 28}) of msg.
func (s *Signer) Sign(msg []byte) (string, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(msg), s.key)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// SignRequest sets the auth headers on r for body, signed at ts.
func (s *Signer) SignRequest(r *http.Request, body []byte, ts time.Time) error {
	unix := ts.Unix()
	sig, err := s.Sign(RequestDigest(r.Method, r.URL.Path, unix, body))
	if err != nil {
		return err
	}
	r.Header.Set(HeaderAddress, s.address.Hex())
	r.Header.Set(HeaderTimestamp, strconv.FormatInt(unix, 10))
	r.Header.Set(HeaderSignature, sig)
	return nil
}

// decodeSignature parses a 65 byte r || s || v signature, normalising v to
// {0, 1}. High-s signatures are rejected so that every signed message has
// exactly one accepted encoding.
func decodeSignature(sigHex string) ([]byte, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != 65 {
		return nil, ErrBadSignature
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	r, s := new(big.Int).SetBytes(sig[:32]), new(big.Int).SetBytes(sig[32:64])
	if !ethcrypto.ValidateSignatureValues(sig[64], r, s, true) {
		return nil, ErrBadSignature
	}
	return sig, nil
}

// SignatureID identifies a signature for replay tracking. Encodings that
// differ only in v share an id.
func SignatureID(sigHex string) (common.Hash, error) {
	sig, err := decodeSignature(sigHex)
	if err != nil {
		return common.Hash{}, err
	}
	return ethcrypto.Keccak256Hash(sig[:64]), nil
}

// Recover returns the address that produced sigHex over msg.
func Recover(msg []byte, sigHex string) (common.Address, error) {
	sig, err := decodeSignature(sigHex)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash(msg), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyRequest checks the auth headers of r against body and returns the
// authenticated caller.
func VerifyRequest(r *http.Request, body []byte, now time.Time, maxSkew time.Duration) (common.Address, error) {
	addrHex := r.Header.Get(HeaderAddress)
	tsStr := r.Header.Get(HeaderTimestamp)
	sigHex := r.Header.Get(HeaderSignature)
	if addrHex == "" || tsStr == "" || sigHex == "" {
		return common.Address{}, ErrMissingSignature
	}
	if !common.IsHexAddress(addrHex) {
		return common.Address{}, ErrBadSignature
	}
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return common.Address{}, ErrExpiredSignature
	}
	if skew := now.Sub(time.Unix(ts, 0)); skew > maxSkew || skew < -maxSkew {
		return common.Address{}, ErrExpiredSignature
	}

	claimed := common.HexToAddress(addrHex)
	got, err := Recover(RequestDigest(r.Method, r.URL.Path, ts, body), sigHex)
	if err != nil {
		return common.Address{}, err
	}
	if got != claimed {
		return common.Address{}, ErrBadSignature
	}
	return claimed, nil
}

// APIKeyMatches compares a presented API key with the expected one in
// constant time. An empty expected key never matches.
func APIKeyMatches(expected, presented string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}
