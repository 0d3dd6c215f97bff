package flashbots

import (
	"bytes"
	"crypto/ecdsa"
	"io"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

const SignatureHeader = "X-Flashbots-Signature"

// AuthSigner produces the relay authentication header for a request body.
type AuthSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewAuthSigner(key *ecdsa.PrivateKey) *AuthSigner {
	return &AuthSigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

func (s *AuthSigner) Address() common.Address {
	return s.address
}

// Sign returns "<address>:<signature>" where the signature is a personal_sign
// over the hex encoded keccak256 of body.
func (s *AuthSigner) Sign(body []byte) (string, error) {
	hashed := crypto.Keccak256Hash(body).Hex()
	signature, err := crypto.Sign(accounts.TextHash([]byte(hashed)), s.key)
	if err != nil {
		return "", errors.Wrap(err, "sign relay request")
	}
	return s.address.Hex() + ":" + hexutil.Encode(signature), nil
}

// VerifyHeader recovers the address that signed body and checks it against the header.
func VerifyHeader(header string, body []byte) (common.Address, error) {
	sep := strings.IndexByte(header, ':')
	if sep < 0 {
		return common.Address{}, errors.New("malformed signature header")
	}
	claimed := header[:sep]
	signature, err := hexutil.Decode(header[sep+1:])
	if err != nil || len(signature) != 65 {
		return common.Address{}, errors.New("malformed signature")
	}
	hashed := crypto.Keccak256Hash(body).Hex()
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(hashed)), signature)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "recover signer")
	}
	recovered := crypto.PubkeyToAddress(*pub)
	if !common.IsHexAddress(claimed) || common.HexToAddress(claimed) != recovered {
		return common.Address{}, errors.Errorf("signature recovers to %s, header claims %s", recovered.Hex(), claimed)
	}
	return recovered, nil
}

// authTransport signs every outgoing request body.
type authTransport struct {
	signer *AuthSigner
	base   http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, errors.Wrap(err, "read relay request body")
		}
	}
	header, err := t.signer.Sign(body)
	if err != nil {
		return nil, err
	}

	signed := req.Clone(req.Context())
	signed.Body = io.NopCloser(bytes.NewReader(body))
	signed.ContentLength = int64(len(body))
	signed.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	signed.Header.Set(SignatureHeader, header)
	return t.base.RoundTrip(signed)
}
