package coordinator

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Fields holds the identity attributes of a lookup (member_id, dob,
// last_name, provider, ...). Names and values are compared after trimming
// and lower-casing.
type Fields map[string]string

// Clone returns an independent copy of f.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Normalize trims and lower-cases every field name and value. Two names that
// collapse to the same normalized name must carry the same normalized value.
func Normalize(fields Fields) (Fields, error) {
	out := make(Fields, len(fields))
	for k, v := range fields {
		nk := strings.ToLower(strings.TrimSpace(k))
		nv := strings.ToLower(strings.TrimSpace(v))
		if nk == "" {
			return nil, fmt.Errorf("%w: empty field name", ErrInvalidFields)
		}
		if prev, ok := out[nk]; ok && prev != nv {
			return nil, fmt.Errorf("%w: field %q given twice with different values", ErrInvalidFields, nk)
		}
		out[nk] = nv
	}
	return out, nil
}

// KeyDeriver turns a namespace and identity fields into a cache key of the
// form "{namespace}:{sha256 hex}". An optional secret is mixed into the
// digest so keys cannot be recomputed from guessed identities.
type KeyDeriver struct {
	secret string
}

// NewKeyDeriver returns a deriver mixing secret into every digest.
func NewKeyDeriver(secret string) KeyDeriver {
	return KeyDeriver{secret: secret}
}

// DeriveKey derives a key without a secret.
func DeriveKey(namespace string, fields Fields) (string, error) {
	return KeyDeriver{}.Derive(namespace, fields)
}

// Derive returns the cache key for namespace and fields. The raw field
// values never appear in the key.
func (d KeyDeriver) Derive(namespace string, fields Fields) (string, error) {
	ns, err := cleanNamespace(namespace)
	if err != nil {
		return "", err
	}
	norm, err := Normalize(fields)
	if err != nil {
		return "", err
	}
	// encoding/json writes map keys in sorted order.
	canonical, err := json.Marshal(norm)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(ns))
	h.Write([]byte{0})
	h.Write(canonical)
	if d.secret != "" {
		h.Write([]byte{0})
		h.Write([]byte(d.secret))
	}
	return ns + ":" + hex.EncodeToString(h.Sum(nil)), nil
}

func cleanNamespace(namespace string) (string, error) {
	ns := strings.TrimSpace(namespace)
	if ns == "" {
		return "", fmt.Errorf("%w: namespace is required", ErrInvalidNamespace)
	}
	if strings.ContainsAny(ns, ": \t\n") {
		return "", fmt.Errorf("%w: %q contains a separator or whitespace", ErrInvalidNamespace, ns)
	}
	return ns, nil
}
