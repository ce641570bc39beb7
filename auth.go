package tnt

import (
	"crypto/sha1"
	"encoding/base64"
	"strings"
)

const scrambleSize = sha1.Size

// greeting is the parsed form of the 128-byte banner the server writes
// immediately after accept.
type greeting struct {
	Version     string
	encodedSalt string
}

// parseGreeting splits the 128-byte greeting into its version banner
// and encoded salt, per §6: a 64-byte human-readable line followed by
// a 64-byte base64 salt line, of which only the first 44 characters
// are significant.
func parseGreeting(raw []byte) (*greeting, error) {
	if len(raw) != greetingSize {
		return nil, newError(ProtocolError, "greeting must be %d bytes, got %d", greetingSize, len(raw))
	}
	version := strings.TrimRight(string(raw[:64]), "\x00\n\r ")
	saltLine := strings.TrimRight(string(raw[64:128]), "\x00\n\r ")
	if len(saltLine) < saltLineLength {
		return nil, newError(ProtocolError, "greeting salt line too short")
	}
	return &greeting{Version: version, encodedSalt: saltLine[:saltLineLength]}, nil
}

// scramble computes the SCRAM-SHA1-like client proof described in
// §4.3: three rounds of SHA1 over the password and the server salt,
// XORed together.
func scramble(encodedSalt, password string) ([]byte, error) {
	saltBytes, err := base64.StdEncoding.DecodeString(encodedSalt)
	if err != nil {
		return nil, wrapError(ProtocolError, err, "decode greeting salt")
	}
	if len(saltBytes) < scrambleSize {
		return nil, newError(ProtocolError, "decoded salt shorter than %d bytes", scrambleSize)
	}
	salt := saltBytes[:scrambleSize]

	step1 := sha1.Sum([]byte(password))
	step2 := sha1.Sum(step1[:])

	h := sha1.New()
	h.Write(salt)
	h.Write(step2[:])
	var step3 [scrambleSize]byte
	copy(step3[:], h.Sum(nil))

	out := make([]byte, scrambleSize)
	for i := 0; i < scrambleSize; i++ {
		out[i] = step1[i] ^ step3[i]
	}
	return out, nil
}

// isAnonymous reports whether the given credentials should be treated
// as anonymous: no user at all, or the well-known guest/empty pair.
func isAnonymous(user, pass string) bool {
	if user == "" {
		return true
	}
	return user == anonymousUser && pass == ""
}
