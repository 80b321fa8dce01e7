package transaction

import (
	"time"
)

const (
	codeSize        = 24
	accessTokenSize = 32
	nonceSize       = 16
)

// PreAuthorizedCode is a one-time code handed to the wallet in a credential offer.
type PreAuthorizedCode struct {
	Code            string
	ConfigurationID string
	ExpiresIn       time.Duration
}

// AccessToken inherits the credential configuration of the code it was redeemed from.
type AccessToken struct {
	Token           string
	ConfigurationID string
	ExpiresIn       time.Duration
}

// Nonce is a c_nonce a holder signs into a proof JWT.
type Nonce struct {
	Value     string
	ExpiresIn time.Duration
}

// Seconds is the lifetime in whole seconds, as carried by OAuth responses.
func (n Nonce) Seconds() int {
	return int(n.ExpiresIn / time.Second)
}

func (t AccessToken) Seconds() int {
	return int(t.ExpiresIn / time.Second)
}

func (c PreAuthorizedCode) Seconds() int {
	return int(c.ExpiresIn / time.Second)
}

// record is the stored form of every transaction artifact.
type record struct {
	ConfigurationID string    `json:"configurationId,omitempty"`
	IssuedAt        time.Time `json:"issuedAt"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

func (r record) expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
