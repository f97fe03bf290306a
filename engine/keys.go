package engine

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"math/big"

	goerrors "github.com/goliatone/go-errors"
)

const signingKeyBits = 2048

// signingKey holds the RSA keypair the engine mints JWTs with, plus the
// derived key id and the marshaled JWK Set served on the jwks endpoint.
type signingKey struct {
	private *rsa.PrivateKey
	keyID   string
	jwkSet  json.RawMessage
}

type jwk struct {
	KeyType   string `json:"kty"`
	Use       string `json:"use"`
	Algorithm string `json:"alg"`
	KeyID     string `json:"kid"`
	Modulus   string `json:"n"`
	Exponent  string `json:"e"`
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

// newSigningKey generates a fresh keypair. The key id is a digest of the
// public modulus so restarts with a persisted key keep a stable kid.
func newSigningKey(private *rsa.PrivateKey) (*signingKey, error) {
	if private == nil {
		var err error
		private, err = rsa.GenerateKey(rand.Reader, signingKeyBits)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate signing key")
		}
	}

	kid := keyIDFor(&private.PublicKey)

	set := jwkSet{
		Keys: []jwk{{
			KeyType:   "RSA",
			Use:       "sig",
			Algorithm: "RS256",
			KeyID:     kid,
			Modulus:   base64.RawURLEncoding.EncodeToString(private.PublicKey.N.Bytes()),
			Exponent:  base64.RawURLEncoding.EncodeToString(big.NewInt(int64(private.PublicKey.E)).Bytes()),
		}},
	}

	raw, err := json.Marshal(set)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to marshal JWK set")
	}

	return &signingKey{
		private: private,
		keyID:   kid,
		jwkSet:  raw,
	}, nil
}

func keyIDFor(pub *rsa.PublicKey) string {
	sum := sha256.Sum256(pub.N.Bytes())
	return base64.RawURLEncoding.EncodeToString(sum[:8])
}
