package opaque

import (
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// KE3 is the client's login confirmation: an HMAC over the session key
// proving it derived the same key as the server, the minimal confirmation
// step this deployment needs in place of a full SIGMA transcript MAC.
type KE3 struct {
	Confirmation []byte
}

const confirmLabel = "darkauth-opaque-confirm"

// ComputeConfirmation derives the KE3 confirmation tag a client sends to
// prove knowledge of sessionKey.
func ComputeConfirmation(sessionKey []byte) []byte {
	mac := hmac.New(sha256.New, sessionKey)
	mac.Write([]byte(confirmLabel))
	return mac.Sum(nil)
}

// ServerLoginState is everything the server must retain between Respond and
// the finish step to derive the same session key and check KE3, persisted
// (JSON, then KEK-sealed by the caller) in the opaque_login_sessions row.
type ServerLoginState struct {
	ServerEphemeralPrivate []byte
	ClientEphemeralPublic  []byte
	ClientStaticPublic     []byte
}

// Marshal serializes state for storage.
func (s *ServerLoginState) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalServerLoginState reverses Marshal.
func UnmarshalServerLoginState(b []byte) (*ServerLoginState, error) {
	var s ServerLoginState
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("unmarshal server login state: %w", err)
	}
	return &s, nil
}

// FinishLogin derives the session key from the retained state and the
// server's static key, then checks the client's KE3 confirmation; the AKE
// is always run to completion even if the confirmation fails, so timing
// does not distinguish "unknown user" from "bad password".
func FinishLogin(static *ServerStaticKeyPair, state *ServerLoginState, ke3 *KE3) ([]byte, bool, error) {
	serverEphemeral, err := ecdh.P256().NewPrivateKey(state.ServerEphemeralPrivate)
	if err != nil {
		return nil, false, fmt.Errorf("reconstruct server ephemeral key: %w", err)
	}
	sessionKey, err := DeriveServerSessionKey(static, serverEphemeral, state.ClientStaticPublic, state.ClientEphemeralPublic)
	if err != nil {
		return nil, false, fmt.Errorf("derive server session key: %w", err)
	}
	expected := ComputeConfirmation(sessionKey)
	ok := hmac.Equal(expected, ke3.Confirmation)
	return sessionKey, ok, nil
}

// Marshal serializes a RegistrationRecord for storage as the user/admin
// envelope row; only Envelope is KEK-irrelevant ciphertext the server
// cannot open, ClientPublicKey and MaskingKey are plaintext by design (the
// OPAQUE envelope construction never hides them from the server).
func (r *RegistrationRecord) Marshal() []byte {
	out := make([]byte, 0, 6+len(r.Envelope)+len(r.ClientPublicKey)+len(r.MaskingKey))
	out = appendChunk(out, r.Envelope)
	out = appendChunk(out, r.ClientPublicKey)
	out = appendChunk(out, r.MaskingKey)
	return out
}

// UnmarshalRegistrationRecord reverses RegistrationRecord.Marshal.
func UnmarshalRegistrationRecord(b []byte) (*RegistrationRecord, error) {
	envelope, rest, err := readChunk(b)
	if err != nil {
		return nil, err
	}
	clientPub, rest, err := readChunk(rest)
	if err != nil {
		return nil, err
	}
	masking, _, err := readChunk(rest)
	if err != nil {
		return nil, err
	}
	return &RegistrationRecord{Envelope: envelope, ClientPublicKey: clientPub, MaskingKey: masking}, nil
}

func appendChunk(out, chunk []byte) []byte {
	n := len(chunk)
	out = append(out, byte(n>>8), byte(n))
	return append(out, chunk...)
}

func readChunk(b []byte) (chunk, rest []byte, err error) {
	if len(b) < 2 {
		return nil, nil, fmt.Errorf("truncated registration record")
	}
	n := int(b[0])<<8 | int(b[1])
	if len(b) < 2+n {
		return nil, nil, fmt.Errorf("truncated registration record chunk")
	}
	return b[2 : 2+n], b[2+n:], nil
}
