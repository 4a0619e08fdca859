package crypto

import (
	"fmt"
)

// WrappedBlob is a key sealed under another key. On disk it is laid out as
// ciphertext || tag || nonce, with the tag and nonce as fixed-width suffixes.
type WrappedBlob struct {
	Ciphertext []byte
	Tag        []byte
	Nonce      []byte
}

// ParseWrappedBlob splits a serialized blob. The last TagSize+BlobNonceSize
// bytes are always tag then nonce.
func ParseWrappedBlob(data []byte) (*WrappedBlob, error) {
	suffix := TagSize + BlobNonceSize
	if len(data) < suffix {
		return nil, fmt.Errorf("%w: wrapped blob is %d bytes, need at least %d", ErrInvalidCiphertext, len(data), suffix)
	}
	split := len(data) - suffix
	return &WrappedBlob{
		Ciphertext: append([]byte(nil), data[:split]...),
		Tag:        append([]byte(nil), data[split:split+TagSize]...),
		Nonce:      append([]byte(nil), data[split+TagSize:]...),
	}, nil
}

// Bytes serializes the blob as ciphertext || tag || nonce
func (w *WrappedBlob) Bytes() []byte {
	out := make([]byte, 0, len(w.Ciphertext)+len(w.Tag)+len(w.Nonce))
	out = append(out, w.Ciphertext...)
	out = append(out, w.Tag...)
	out = append(out, w.Nonce...)
	return out
}

func (w *WrappedBlob) open(key []byte) ([]byte, error) {
	if len(w.Tag) != TagSize || len(w.Nonce) != BlobNonceSize {
		return nil, fmt.Errorf("%w: malformed wrapped blob", ErrInvalidCiphertext)
	}
	return OpenDetached(key, w.Nonce, w.Ciphertext, w.Tag)
}

// UnwrapMainKey opens the main key blob with the password-derived KEK.
// A wrong KEK always fails with ErrAuthFailed.
func UnwrapMainKey(kek []byte, blob *WrappedBlob) (*Secret, error) {
	plaintext, err := blob.open(kek)
	if err != nil {
		return nil, err
	}
	if len(plaintext) != KeySize {
		ClearBytes(plaintext)
		return nil, fmt.Errorf("%w: main key is %d bytes, want %d", ErrInvalidKey, len(plaintext), KeySize)
	}
	return NewSecret(plaintext), nil
}

// UnwrapDEK opens the data-encryption key blob with the main key. The
// plaintext is DEK(32) || IV.
func UnwrapDEK(mainKey []byte, blob *WrappedBlob) (dek *Secret, iv *Secret, err error) {
	plaintext, err := blob.open(mainKey)
	if err != nil {
		return nil, nil, err
	}
	defer ClearBytes(plaintext)

	if len(plaintext) < KeySize {
		return nil, nil, fmt.Errorf("%w: key blob holds %d bytes, want at least %d", ErrInvalidKey, len(plaintext), KeySize)
	}

	dek = NewSecret(append([]byte(nil), plaintext[:KeySize]...))
	iv = NewSecret(append([]byte(nil), plaintext[KeySize:]...))
	return dek, iv, nil
}
