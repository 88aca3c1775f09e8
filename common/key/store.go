package key

import (
	"bytes"
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/drand/ceremony/crypto"
	"github.com/drand/ceremony/internal/fs"
)

// DefaultKeyFile is where the coordinator administrator keypair is kept.
const DefaultKeyFile = "coordinator.keypair.toml"

// PairTOML is the on disk representation of a keypair.
type PairTOML struct {
	Secret string
	Public string
}

// TOML returns the TOML representation of kp.
func TOML(kp *crypto.Keypair) *PairTOML {
	return &PairTOML{Secret: kp.SecretHex(), Public: kp.PublicKey()}
}

// FromTOML rebuilds a keypair and checks the stored public key matches.
func (p *PairTOML) FromTOML() (*crypto.Keypair, error) {
	kp, err := crypto.KeypairFromSecret(p.Secret)
	if err != nil {
		return nil, err
	}
	if p.Public != "" && p.Public != kp.PublicKey() {
		return nil, fmt.Errorf("public key %s does not match the secret", p.Public)
	}
	return kp, nil
}

// Save writes kp to path with owner only permissions.
func Save(path string, kp *crypto.Keypair) error {
	var b bytes.Buffer
	if err := toml.NewEncoder(&b).Encode(TOML(kp)); err != nil {
		return err
	}
	return fs.WriteSecureFile(path, b.Bytes())
}

// Load reads a keypair written by Save.
func Load(path string) (*crypto.Keypair, error) {
	var p PairTOML
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return nil, fmt.Errorf("reading key file %s: %w", path, err)
	}
	return p.FromTOML()
}

// FileProvider returns a Provider loading the keypair from path.
func FileProvider(path string) Provider {
	return func() (*crypto.Keypair, error) {
		return Load(path)
	}
}
