// Package types defines common types used across the application.
package types

import "fmt"

// Byte bounds of the persisted credential entries.
const (
	MaxSSIDLen     = 127
	MaxPasswordLen = 127
	MaxAPIKeyLen   = 255
)

// CredentialRecord is the single credential set the device keeps between boots.
// The fields map to the persisted entries "ssid", "password" and "openai_key".
type CredentialRecord struct {
	SSID     string `yaml:"ssid"`                 // Network name, required for the record to count as present
	Password string `yaml:"password"`             // Network secret, empty means an open network
	APIKey   string `yaml:"openai_key,omitempty"` // Auxiliary token, optional
}

// Present reports whether the record names a network to join.
func (r *CredentialRecord) Present() bool {
	return r != nil && r.SSID != ""
}

// Validate checks the byte bounds of every field.
func (r CredentialRecord) Validate() error {
	if len(r.SSID) > MaxSSIDLen {
		return fmt.Errorf("ssid is %d bytes, limit is %d", len(r.SSID), MaxSSIDLen)
	}
	if len(r.Password) > MaxPasswordLen {
		return fmt.Errorf("password is %d bytes, limit is %d", len(r.Password), MaxPasswordLen)
	}
	if len(r.APIKey) > MaxAPIKeyLen {
		return fmt.Errorf("openai_key is %d bytes, limit is %d", len(r.APIKey), MaxAPIKeyLen)
	}
	return nil
}
