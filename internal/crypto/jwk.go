package crypto

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// JWK is the JSON Web Key form of an AES-GCM key, as exported by WebCrypto.
type JWK struct {
	Kty    string   `json:"kty"`
	K      string   `json:"k"`
	Alg    string   `json:"alg,omitempty"`
	Ext    bool     `json:"ext"`
	KeyOps []string `json:"key_ops,omitempty"`
}

func (k Key) MarshalJWK() ([]byte, error) {
	if !k.Valid() {
		return nil, ErrInvalidKey
	}
	b, err := json.Marshal(JWK{
		Kty:    "oct",
		K:      base64.RawURLEncoding.EncodeToString(k.raw),
		Alg:    "A256GCM",
		Ext:    true,
		KeyOps: []string{"encrypt", "decrypt"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal jwk: %w", err)
	}
	return b, nil
}

func ParseJWK(raw []byte) (Key, error) {
	var jwk JWK
	if err := json.Unmarshal(raw, &jwk); err != nil {
		return Key{}, fmt.Errorf("unmarshal jwk: %w", err)
	}
	if jwk.Kty != "oct" {
		return Key{}, fmt.Errorf("unsupported jwk kty %q", jwk.Kty)
	}
	if jwk.Alg != "" && jwk.Alg != "A256GCM" {
		return Key{}, fmt.Errorf("unsupported jwk alg %q", jwk.Alg)
	}
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(jwk.K, "="))
	if err != nil {
		return Key{}, fmt.Errorf("decode jwk k: %w", err)
	}
	return NewKey(b)
}
