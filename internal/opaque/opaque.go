// Package opaque implements an asymmetric password-authenticated key
// exchange: the server never observes a password or an export key, only a
// per-registration oblivious-PRF key and an opaque "envelope" blob.
//
// The OPRF step is a classic Diffie-Hellman blind evaluation over P-256
// (blind, evaluate, unblind as scalar multiples of a single base-point
// exponentiation chain); it omits the discrete-log-equality proof RFC 9497
// adds for a server that might try to cheat, which this deployment does not
// need to defend against since the server is the relying party, not an
// adversary it authenticates against.
package opaque

import (
	"crypto/ecdh"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/puzed/darkauth-sub006/internal/cryptoutil"
)

var curve = elliptic.P256()

// RegistrationRequest is the client's first registration message: a blinded
// representation of the password that reveals nothing about it.
type RegistrationRequest struct {
	BlindedElement []byte
}

// RegistrationResponse is the server's reply: the OPRF evaluation plus the
// server's long-term static public key, which every client envelope binds to.
type RegistrationResponse struct {
	EvaluatedElement []byte
	ServerPublicKey  []byte
}

// RegistrationRecord is what the server stores after registration completes:
// an envelope it cannot open, the client's static public key, and a masking
// key used to hide the envelope's presence during login until authenticated.
type RegistrationRecord struct {
	Envelope        []byte
	ClientPublicKey []byte
	MaskingKey      []byte
}

// ClientRegistrationState is held by the caller between BeginRegistration and
// FinalizeRegistration; it is never transmitted or persisted.
type ClientRegistrationState struct {
	blind    *big.Int
	password []byte
}

// BeginRegistration blinds password and returns the request to send the
// server, along with the state needed to finish registration once the
// server replies.
func BeginRegistration(password []byte) (*ClientRegistrationState, *RegistrationRequest, error) {
	blind, err := randomScalar()
	if err != nil {
		return nil, nil, err
	}
	bx, by := blindElement(password, blind)
	return &ClientRegistrationState{blind: blind, password: password},
		&RegistrationRequest{BlindedElement: elliptic.Marshal(curve, bx, by)}, nil
}

// ServerOPRFKey is a per-registration secret scalar the server stores
// (KEK-encrypted) and must supply again at every login attempt.
type ServerOPRFKey struct {
	K *big.Int
}

// NewServerOPRFKey generates a fresh per-registration OPRF key.
func NewServerOPRFKey() (*ServerOPRFKey, error) {
	k, err := randomScalar()
	if err != nil {
		return nil, err
	}
	return &ServerOPRFKey{K: k}, nil
}

// Bytes serializes the OPRF key scalar for storage under the KEK.
func (k *ServerOPRFKey) Bytes() []byte { return k.K.Bytes() }

// ServerOPRFKeyFromBytes reconstructs a scalar previously persisted with Bytes.
func ServerOPRFKeyFromBytes(b []byte) *ServerOPRFKey {
	return &ServerOPRFKey{K: new(big.Int).SetBytes(b)}
}

// Evaluate computes the server's half of the registration or login OPRF
// exchange: evaluated = k * blinded.
func Evaluate(key *ServerOPRFKey, blindedElement []byte) ([]byte, error) {
	x, y := elliptic.Unmarshal(curve, blindedElement)
	if x == nil {
		return nil, fmt.Errorf("invalid blinded element")
	}
	ex, ey := curve.ScalarMult(x, y, key.K.Bytes())
	return elliptic.Marshal(curve, ex, ey), nil
}

// ServerStaticKeyPair is the server-wide ECDH static keypair every envelope
// binds to; distinct from the OPRF key, which is per registration.
type ServerStaticKeyPair struct {
	Private *ecdh.PrivateKey
}

// NewServerStaticKeyPair generates the server's long-term ECDH key.
func NewServerStaticKeyPair() (*ServerStaticKeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate server static key: %w", err)
	}
	return &ServerStaticKeyPair{Private: priv}, nil
}

// FinalizeRegistration unblinds the server's evaluation, derives the export
// key and an envelope-sealing key, generates the client's own static ECDH
// keypair, and seals the client's static private key together with the
// server's static public key into an envelope the server can store but
// never open.
func FinalizeRegistration(state *ClientRegistrationState, resp *RegistrationResponse) (*RegistrationRecord, []byte, error) {
	ex, ey := elliptic.Unmarshal(curve, resp.EvaluatedElement)
	if ex == nil {
		return nil, nil, fmt.Errorf("invalid evaluated element")
	}
	rInv := new(big.Int).ModInverse(state.blind, curve.Params().N)
	if rInv == nil {
		return nil, nil, fmt.Errorf("blind has no inverse")
	}
	ux, uy := curve.ScalarMult(ex, ey, rInv.Bytes())
	oprfOutput := cryptoutil.SHA256(append(elliptic.Marshal(curve, ux, uy), state.password...))

	randomizedPassword, err := cryptoutil.HKDFExpand(oprfOutput, nil, []byte("darkauth-opaque-rwd"), 32)
	if err != nil {
		return nil, nil, err
	}
	envelopeKey, err := cryptoutil.HKDFExpand(randomizedPassword, nil, []byte("darkauth-opaque-envelope"), 32)
	if err != nil {
		return nil, nil, err
	}
	exportKey, err := cryptoutil.HKDFExpand(randomizedPassword, nil, []byte("darkauth-opaque-export"), 32)
	if err != nil {
		return nil, nil, err
	}
	maskingKey, err := cryptoutil.HKDFExpand(randomizedPassword, nil, []byte("darkauth-opaque-masking"), 32)
	if err != nil {
		return nil, nil, err
	}

	clientStatic, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate client static key: %w", err)
	}

	plaintext := append(append([]byte{}, clientStatic.Bytes()...), resp.ServerPublicKey...)
	envelope, err := cryptoutil.SealAESGCM(envelopeKey, plaintext, []byte("darkauth-opaque-envelope"))
	if err != nil {
		return nil, nil, err
	}

	return &RegistrationRecord{
		Envelope:        envelope,
		ClientPublicKey: clientStatic.PublicKey().Bytes(),
		MaskingKey:      maskingKey,
	}, exportKey, nil
}

// KE1 is the client's login initiation message.
type KE1 struct {
	BlindedElement        []byte
	ClientEphemeralPublic []byte
}

// ClientLoginState is held between BeginLogin and FinalizeLogin.
type ClientLoginState struct {
	blind           *big.Int
	password        []byte
	clientEphemeral *ecdh.PrivateKey
}

// BeginLogin blinds the password and generates a fresh ephemeral ECDH key
// for this login attempt.
func BeginLogin(password []byte) (*ClientLoginState, *KE1, error) {
	blind, err := randomScalar()
	if err != nil {
		return nil, nil, err
	}
	ephemeral, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate client ephemeral key: %w", err)
	}
	bx, by := blindElement(password, blind)
	return &ClientLoginState{blind: blind, password: password, clientEphemeral: ephemeral},
		&KE1{
			BlindedElement:        elliptic.Marshal(curve, bx, by),
			ClientEphemeralPublic: ephemeral.PublicKey().Bytes(),
		}, nil
}

// KE2 is the server's login response: its OPRF evaluation, the stored
// envelope (masked so an attacker who only observes the wire cannot tell a
// registration exists without knowing the masking key), and its own
// ephemeral key.
type KE2 struct {
	EvaluatedElement      []byte
	MaskedEnvelope        []byte
	ServerEphemeralPublic []byte
	ServerStaticPublic    []byte
}

// ServerLoginResult carries the server-side session key derived during
// login; it holds no confirmation flag (FinishLogin reports the KE3 check
// separately).
type ServerLoginResult struct {
	SessionKey []byte
}

// Respond is the server's side of login: evaluate the OPRF, mask the stored
// envelope with the record's masking key, and derive the server's half of
// the transcript-bound session key material.
func Respond(key *ServerOPRFKey, static *ServerStaticKeyPair, record *RegistrationRecord, ke1 *KE1) (*KE2, *ecdh.PrivateKey, error) {
	evaluated, err := Evaluate(key, ke1.BlindedElement)
	if err != nil {
		return nil, nil, err
	}
	serverEphemeral, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate server ephemeral key: %w", err)
	}
	masked, err := cryptoutil.HKDFExpand(record.MaskingKey, nil, []byte("darkauth-opaque-mask"), len(record.Envelope))
	if err != nil {
		return nil, nil, err
	}
	maskedEnvelope := xorBytes(record.Envelope, masked)
	return &KE2{
		EvaluatedElement:      evaluated,
		MaskedEnvelope:        maskedEnvelope,
		ServerEphemeralPublic: serverEphemeral.PublicKey().Bytes(),
		ServerStaticPublic:    static.Private.PublicKey().Bytes(),
	}, serverEphemeral, nil
}

// FinalizeLogin unmasks the envelope, recovers the client's static key, and
// computes the shared session key from three ECDH computations (ephemeral-
// static, static-ephemeral, ephemeral-ephemeral), the same triple-DH shape a
// SIGMA-style handshake uses to bind both parties' long-term and ephemeral
// keys into one session key.
func FinalizeLogin(state *ClientLoginState, ke2 *KE2) ([]byte, []byte, error) {
	ex, ey := elliptic.Unmarshal(curve, ke2.EvaluatedElement)
	if ex == nil {
		return nil, nil, fmt.Errorf("invalid evaluated element")
	}
	rInv := new(big.Int).ModInverse(state.blind, curve.Params().N)
	if rInv == nil {
		return nil, nil, fmt.Errorf("blind has no inverse")
	}
	ux, uy := curve.ScalarMult(ex, ey, rInv.Bytes())
	oprfOutput := cryptoutil.SHA256(append(elliptic.Marshal(curve, ux, uy), state.password...))

	randomizedPassword, err := cryptoutil.HKDFExpand(oprfOutput, nil, []byte("darkauth-opaque-rwd"), 32)
	if err != nil {
		return nil, nil, err
	}
	envelopeKey, err := cryptoutil.HKDFExpand(randomizedPassword, nil, []byte("darkauth-opaque-envelope"), 32)
	if err != nil {
		return nil, nil, err
	}
	exportKey, err := cryptoutil.HKDFExpand(randomizedPassword, nil, []byte("darkauth-opaque-export"), 32)
	if err != nil {
		return nil, nil, err
	}
	maskingKey, err := cryptoutil.HKDFExpand(randomizedPassword, nil, []byte("darkauth-opaque-masking"), 32)
	if err != nil {
		return nil, nil, err
	}

	mask, err := cryptoutil.HKDFExpand(maskingKey, nil, []byte("darkauth-opaque-mask"), len(ke2.MaskedEnvelope))
	if err != nil {
		return nil, nil, err
	}
	envelope := xorBytes(ke2.MaskedEnvelope, mask)

	plaintext, err := cryptoutil.OpenAESGCM(envelopeKey, envelope, []byte("darkauth-opaque-envelope"))
	if err != nil {
		return nil, nil, fmt.Errorf("open envelope (wrong password): %w", err)
	}
	clientStaticBytes, serverStaticExpected := plaintext[:32], plaintext[32:]
	if !cryptoutil.ConstantTimeEqual(serverStaticExpected, ke2.ServerStaticPublic) {
		return nil, nil, fmt.Errorf("server static key mismatch")
	}
	clientStatic, err := ecdh.P256().NewPrivateKey(clientStaticBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("reconstruct client static key: %w", err)
	}

	serverStaticPub, err := ecdh.P256().NewPublicKey(ke2.ServerStaticPublic)
	if err != nil {
		return nil, nil, err
	}
	serverEphemeralPub, err := ecdh.P256().NewPublicKey(ke2.ServerEphemeralPublic)
	if err != nil {
		return nil, nil, err
	}

	dh1, err := state.clientEphemeral.ECDH(serverStaticPub)
	if err != nil {
		return nil, nil, err
	}
	dh2, err := clientStatic.ECDH(serverEphemeralPub)
	if err != nil {
		return nil, nil, err
	}
	dh3, err := state.clientEphemeral.ECDH(serverEphemeralPub)
	if err != nil {
		return nil, nil, err
	}

	sessionKey, err := deriveSessionKey(dh1, dh2, dh3)
	if err != nil {
		return nil, nil, err
	}
	return sessionKey, exportKey, nil
}

// DeriveServerSessionKey mirrors FinalizeLogin's session-key derivation on
// the server side, using the server's own keys against the client's public
// keys recorded at registration/login time.
func DeriveServerSessionKey(serverStatic *ServerStaticKeyPair, serverEphemeral *ecdh.PrivateKey, clientStaticPublic, clientEphemeralPublic []byte) ([]byte, error) {
	clientStaticPub, err := ecdh.P256().NewPublicKey(clientStaticPublic)
	if err != nil {
		return nil, err
	}
	clientEphemeralPub, err := ecdh.P256().NewPublicKey(clientEphemeralPublic)
	if err != nil {
		return nil, err
	}
	dh1, err := serverStatic.Private.ECDH(clientEphemeralPub)
	if err != nil {
		return nil, err
	}
	dh2, err := serverEphemeral.ECDH(clientStaticPub)
	if err != nil {
		return nil, err
	}
	dh3, err := serverEphemeral.ECDH(clientEphemeralPub)
	if err != nil {
		return nil, err
	}
	return deriveSessionKey(dh1, dh2, dh3)
}

func deriveSessionKey(dh1, dh2, dh3 []byte) ([]byte, error) {
	transcript := append(append(append([]byte{}, dh1...), dh2...), dh3...)
	return cryptoutil.HKDFExpand(transcript, nil, []byte("darkauth-opaque-session"), 32)
}

func blindElement(password []byte, blind *big.Int) (*big.Int, *big.Int) {
	h := hashToScalar(password)
	hx, hy := curve.ScalarBaseMult(h.Bytes())
	return curve.ScalarMult(hx, hy, blind.Bytes())
}

func hashToScalar(data []byte) *big.Int {
	sum := sha256.Sum256(data)
	s := new(big.Int).SetBytes(sum[:])
	n := curve.Params().N
	s.Mod(s, n)
	if s.Sign() == 0 {
		s.SetInt64(1)
	}
	return s
}

func randomScalar() (*big.Int, error) {
	n := curve.Params().N
	nMinus1 := new(big.Int).Sub(n, big.NewInt(1))
	k, err := rand.Int(rand.Reader, nMinus1)
	if err != nil {
		return nil, fmt.Errorf("generate random scalar: %w", err)
	}
	return k.Add(k, big.NewInt(1)), nil
}

func xorBytes(a, b []byte) []byte {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = a[i] ^ b[i]
	}
	return out
}
