// Package zkdrk handles the zero-knowledge custody of a user's Data Root Key
// (DRK). The server stores the user's wrapped DRK verbatim and can never
// decrypt it; it only validates the wire shape of the JWE the browser
// produces and binds a hash of it into the issued ID token so a relying
// party can prove which DRK ciphertext a given login session delivered.
package zkdrk

import (
	"fmt"

	"github.com/lestrrat-go/jwx/v3/jwe"

	"github.com/puzed/darkauth-sub006/internal/cryptoutil"
)

// ValidateCompactJWE parses jweCompact far enough to confirm it is a
// well-formed ECDH-ES+A256GCM compact JWE without ever touching the
// encrypted content; this is the only inspection the server is allowed to
// perform on DRK material.
func ValidateCompactJWE(jweCompact []byte) error {
	msg, err := jwe.Parse(jweCompact)
	if err != nil {
		return fmt.Errorf("invalid drk_jwe: %w", err)
	}
	headers := msg.ProtectedHeaders()
	if headers == nil {
		return fmt.Errorf("drk_jwe missing protected headers")
	}
	alg, ok := headers.Algorithm()
	if !ok || alg.String() != "ECDH-ES" {
		return fmt.Errorf("drk_jwe must use ECDH-ES key agreement")
	}
	enc, ok := headers.ContentEncryption()
	if !ok || enc.String() != "A256GCM" {
		return fmt.Errorf("drk_jwe must use A256GCM content encryption")
	}
	return nil
}

// Hash returns the base64url(SHA-256(drk_jwe)) value bound into the ID token
// as zk_drk_hash.
func Hash(jweCompact []byte) string {
	return cryptoutil.Base64URLEncode(cryptoutil.SHA256(jweCompact))
}
