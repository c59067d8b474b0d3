// Package horosafe provides the security primitives cablesync applies at its
// edges: secret validation, path traversal guards for the blob store,
// identifier checks and bounded reads of uploaded files.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode"
)

// MinSecretLen is the minimum acceptable length for symmetric secrets
// (JWT HS256). 32 bytes = 256 bits of entropy.
const MinSecretLen = 32

// ErrSecretTooShort is returned when a secret does not meet MinSecretLen.
var ErrSecretTooShort = fmt.Errorf("horosafe: secret must be at least %d bytes", MinSecretLen)

// ErrPathTraversal is returned when a user-supplied path escapes its base.
var ErrPathTraversal = errors.New("horosafe: path traversal detected")

// ErrTooLarge is returned by LimitedReadAll when the input exceeds the cap.
var ErrTooLarge = errors.New("horosafe: input exceeds size limit")

// ValidateSecret checks that secret is at least MinSecretLen bytes.
func ValidateSecret(secret []byte) error {
	if len(secret) < MinSecretLen {
		return ErrSecretTooShort
	}
	return nil
}

// SafePath validates that joining base and userInput does not escape base.
// Returns the cleaned path or ErrPathTraversal.
func SafePath(base, userInput string) (string, error) {
	if strings.Contains(userInput, "..") {
		return "", ErrPathTraversal
	}
	cleaned := filepath.Join(base, filepath.Clean("/"+userInput))
	if !strings.HasPrefix(cleaned, filepath.Clean(base)+string(filepath.Separator)) &&
		cleaned != filepath.Clean(base) {
		return "", ErrPathTraversal
	}
	return cleaned, nil
}

// ValidateIdentifier rejects identifiers that contain characters unsuitable
// for file names or URL path segments. Allows alphanumeric, underscore,
// hyphen, and dot.
func ValidateIdentifier(s string) error {
	if s == "" {
		return fmt.Errorf("horosafe: identifier must not be empty")
	}
	if len(s) > 256 {
		return fmt.Errorf("horosafe: identifier too long (max 256)")
	}
	for _, r := range s {
		if !isIdentChar(r) {
			return fmt.Errorf("horosafe: invalid character %q in identifier", r)
		}
	}
	return nil
}

// SanitizeFileName reduces a client-supplied file name to its base name with
// every character outside [A-Za-z0-9._-] replaced by '_'.
func SanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" {
		return "upload"
	}
	var b strings.Builder
	for _, r := range name {
		if r < unicode.MaxASCII && isIdentChar(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if out == "" {
		return "upload"
	}
	return out
}

// LimitedReadAll reads at most maxBytes from r. Returns ErrTooLarge if the
// limit is exceeded.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	lr := io.LimitReader(r, maxBytes+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, maxBytes)
	}
	return data, nil
}

func isIdentChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}
