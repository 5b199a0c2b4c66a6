package types

// redactedPlaceholder is the string used to replace secret values in logs
// and serialization.
const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString is a string type that prevents accidental logging or
// serialization of sensitive values (broker tokens, signing keys, the
// dashboard API token). It overrides String() and MarshalJSON() to return a
// redacted placeholder.
//
// Use Unmask() to retrieve the raw plaintext value when it is genuinely
// needed (e.g., building an Authorization header or an HMAC key).
type SecretString string

// String returns a redacted placeholder instead of the raw value.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the raw plaintext value of the secret.
func (s SecretString) Unmask() string {
	return string(s)
}
