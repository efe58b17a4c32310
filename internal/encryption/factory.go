package encryption

import (
	"fmt"

	"inertiavault/internal/config"
	"inertiavault/internal/iv"
)

// NewEncryptorFromConfig creates the Encryptor selected by cfg.Type.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (iv.Encryptor, error) {
	switch cfg.Type {
	case "age", "":
		if cfg.PublicKeyPath == "" || cfg.PrivateKeyPath == "" {
			return nil, fmt.Errorf("%w: age encryption needs public_key_path and private_key_path", iv.ErrConfiguration)
		}
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("%w: unknown encryption type %q", iv.ErrConfiguration, cfg.Type)
	}
}
