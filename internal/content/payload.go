package content

import (
	"bytes"
	"fmt"

	"inertiavault/internal/iv"

	"github.com/klauspost/compress/zstd"
)

// Block payloads start with a 4-byte header: magic "IV", format version and
// flags. Decoding trusts the flags, not the job that wrote the block, so a
// block shared by jobs with different settings stays readable.
const (
	magic0        = 'I'
	magic1        = 'V'
	formatVersion = 1
	headerSize    = 4

	flagCompressed byte = 1 << 0
	flagEncrypted  byte = 1 << 1
)

// codec applies and removes the payload transformations.
type codec struct {
	enc       *zstd.Encoder
	dec       *zstd.Decoder
	encryptor iv.Encryptor
}

func newCodec(encryptor iv.Encryptor) (*codec, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &codec{enc: enc, dec: dec, encryptor: encryptor}, nil
}

func (c *codec) encode(data []byte, opts iv.EncodeOptions) ([]byte, error) {
	var flags byte
	body := data
	if opts.Compress {
		body = c.enc.EncodeAll(data, make([]byte, 0, len(data)/2+64))
		flags |= flagCompressed
	}
	if opts.Encrypt {
		if c.encryptor == nil || !c.encryptor.IsConfigured() {
			return nil, fmt.Errorf("%w: encryption requested but no keys are configured (run `iv keys init`)", iv.ErrConfiguration)
		}
		var buf bytes.Buffer
		if err := c.encryptor.Encrypt(bytes.NewReader(body), &buf); err != nil {
			return nil, fmt.Errorf("encrypting block: %w", err)
		}
		body = buf.Bytes()
		flags |= flagEncrypted
	}

	payload := make([]byte, 0, headerSize+len(body))
	payload = append(payload, magic0, magic1, formatVersion, flags)
	return append(payload, body...), nil
}

// payloadFlags validates the header of payload and returns its flags.
func payloadFlags(payload []byte) (byte, error) {
	if len(payload) < headerSize || payload[0] != magic0 || payload[1] != magic1 {
		return 0, fmt.Errorf("%w: not a block payload", iv.ErrIntegrity)
	}
	if payload[2] != formatVersion {
		return 0, fmt.Errorf("%w: unsupported block format version %d", iv.ErrIntegrity, payload[2])
	}
	if payload[3]&^(flagCompressed|flagEncrypted) != 0 {
		return 0, fmt.Errorf("%w: unknown block flags %#x", iv.ErrIntegrity, payload[3])
	}
	return payload[3], nil
}

// decode reverses encode. dec may be nil for blocks that are not encrypted.
func (c *codec) decode(payload []byte, dec iv.DecryptionContext) ([]byte, error) {
	flags, err := payloadFlags(payload)
	if err != nil {
		return nil, err
	}
	body := payload[headerSize:]

	if flags&flagEncrypted != 0 {
		if dec == nil {
			return nil, fmt.Errorf("%w: block is encrypted and no key is unlocked", iv.ErrConfiguration)
		}
		var buf bytes.Buffer
		if err := dec.Decrypt(bytes.NewReader(body), &buf); err != nil {
			return nil, fmt.Errorf("%w: decrypting block: %v", iv.ErrIntegrity, err)
		}
		body = buf.Bytes()
	}
	if flags&flagCompressed != 0 {
		raw, err := c.dec.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: decompressing block: %v", iv.ErrIntegrity, err)
		}
		body = raw
	}
	if body == nil {
		body = []byte{}
	}
	return body, nil
}
