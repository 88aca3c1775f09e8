package crypto

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/drand/kyber"
	"github.com/drand/kyber/group/edwards25519"
	"github.com/drand/kyber/sign"
	"github.com/drand/kyber/sign/schnorr"
)

// MinSeedSize is the shortest seed KeypairFromSeed accepts.
const MinSeedSize = 32

var (
	suite  = edwards25519.NewBlakeSHA256Ed25519()
	scheme sign.Scheme = schnorr.NewScheme(suite)
)

// ErrInvalidSignature is returned by Verify when a signature does not match.
var ErrInvalidSignature = errors.New("invalid signature")

// Keypair is a contributor's signing identity.
type Keypair struct {
	secret kyber.Scalar
	public kyber.Point
}

// NewKeypair returns a random keypair.
func NewKeypair() *Keypair {
	secret := suite.Scalar().Pick(suite.RandomStream())
	return fromSecret(secret)
}

// KeypairFromSeed derives a keypair deterministically from seed.
func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) < MinSeedSize {
		return nil, fmt.Errorf("seed too short: %d bytes, need at least %d", len(seed), MinSeedSize)
	}
	return fromSecret(suite.Scalar().Pick(suite.XOF(seed))), nil
}

// KeypairFromSecret parses the hex encoding produced by SecretHex.
func KeypairFromSecret(secretHex string) (*Keypair, error) {
	buff, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("decoding secret: %w", err)
	}
	secret := suite.Scalar()
	if err := secret.UnmarshalBinary(buff); err != nil {
		return nil, fmt.Errorf("unmarshalling secret: %w", err)
	}
	return fromSecret(secret), nil
}

func fromSecret(secret kyber.Scalar) *Keypair {
	return &Keypair{secret: secret, public: suite.Point().Mul(secret, nil)}
}

// PublicKey returns the base64 encoding of the public point. It is the
// contributor identifier on the wire.
func (k *Keypair) PublicKey() string {
	buff, _ := k.public.MarshalBinary()
	return base64.StdEncoding.EncodeToString(buff)
}

// SecretHex returns the hex encoding of the secret scalar.
func (k *Keypair) SecretHex() string {
	buff, _ := k.secret.MarshalBinary()
	return hex.EncodeToString(buff)
}

// Sign returns the hex encoded Schnorr signature of msg.
func (k *Keypair) Sign(msg []byte) (string, error) {
	sig, err := scheme.Sign(k.secret, msg)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}

// ParsePublicKey decodes a public key produced by Keypair.PublicKey.
func ParsePublicKey(pubkey string) (kyber.Point, error) {
	buff, err := base64.StdEncoding.DecodeString(pubkey)
	if err != nil {
		return nil, fmt.Errorf("decoding public key: %w", err)
	}
	p := suite.Point()
	if err := p.UnmarshalBinary(buff); err != nil {
		return nil, fmt.Errorf("unmarshalling public key: %w", err)
	}
	return p, nil
}

// Verify checks a hex signature produced by Keypair.Sign against pubkey.
func Verify(pubkey string, msg []byte, signature string) error {
	pub, err := ParsePublicKey(pubkey)
	if err != nil {
		return err
	}
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if err := scheme.Verify(pub, msg, sig); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}
