// Package dump fetches and decrypts the periodic encrypted snapshot of the
// Pi-hole query log.
package dump

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/pihound/pihound/pkg/model"
)

const (
	saltedMagic = "Salted__"

	pbkdf2Iterations = 10000
	keyLength        = 32
	ivLength         = 16
)

// ErrInvalidHeader indicates the payload does not start with the OpenSSL
// "Salted__" marker.
var ErrInvalidHeader = errors.New("invalid OpenSSL salt header")

// TransportError is returned when the dump endpoint answers with a
// non-success status.
type TransportError struct {
	StatusCode int
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("download failed: %d", e.StatusCode)
}

// DecryptionError wraps a cipher or padding failure while decrypting the
// dump, typically a wrong passphrase or corrupted ciphertext.
type DecryptionError struct {
	Reason string
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("decryption failed: %s", e.Reason)
}

// ParseError indicates the decrypted payload is not the expected JSON array
// of query events. Like ErrInvalidHeader, it marks a malformed dump rather
// than a transport or cipher failure.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed dump: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type Client struct {
	http *http.Client
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		http: &http.Client{Timeout: timeout},
	}
}

// Fetch retrieves the raw encrypted dump.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &TransportError{StatusCode: res.StatusCode}
	}

	return io.ReadAll(res.Body)
}

// Decrypt decrypts an OpenSSL-compatible salted payload: an 8 byte
// "Salted__" marker, an 8 byte salt, then AES-256-CBC ciphertext. Key and IV
// are derived with PBKDF2-SHA256 at 10000 iterations, matching
// `openssl enc -aes-256-cbc -pbkdf2 -md sha256`.
func Decrypt(data []byte, passphrase string) ([]byte, error) {
	if len(data) < 16 || !bytes.Equal(data[:8], []byte(saltedMagic)) {
		return nil, ErrInvalidHeader
	}

	salt := data[8:16]
	ciphertext := data[16:]

	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, &DecryptionError{Reason: "ciphertext is not a multiple of the block size"}
	}

	keyIV := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keyLength+ivLength, sha256.New)

	block, err := aes.NewCipher(keyIV[:keyLength])
	if err != nil {
		return nil, &DecryptionError{Reason: err.Error()}
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, keyIV[keyLength:]).CryptBlocks(plaintext, ciphertext)

	return stripPadding(plaintext)
}

// Parse decodes a decrypted dump into its query events.
func Parse(plaintext []byte) ([]model.DumpItem, error) {
	var items []model.DumpItem
	if err := json.Unmarshal(plaintext, &items); err != nil {
		return nil, &ParseError{Err: err}
	}
	return items, nil
}

// stripPadding removes and verifies PKCS#7 padding.
func stripPadding(plaintext []byte) ([]byte, error) {
	n := int(plaintext[len(plaintext)-1])
	if n == 0 || n > aes.BlockSize || n > len(plaintext) {
		return nil, &DecryptionError{Reason: "bad padding"}
	}
	for _, b := range plaintext[len(plaintext)-n:] {
		if int(b) != n {
			return nil, &DecryptionError{Reason: "bad padding"}
		}
	}
	return plaintext[:len(plaintext)-n], nil
}
