package domain

import "time"

// CredentialsMode selects the transport credentials of a channel
type CredentialsMode string

const (
	CredentialsInsecure      CredentialsMode = "insecure"
	CredentialsTLS           CredentialsMode = "tls"
	CredentialsTLSSkipVerify CredentialsMode = "tls-skip-verify"
)

// Connection holds gRPC connection settings
type Connection struct {
	Address     string          `json:"address"`
	Credentials CredentialsMode `json:"credentials"`
	Timeout     time.Duration   `json:"-"`

	// TLS configuration
	TLS TLSSettings `json:"-"`
}

// TLSSettings holds detailed TLS configuration
type TLSSettings struct {
	ServerName     string // Override for certificate host name verification
	CAFile         string // Path to CA certificate
	ClientCertFile string // Path to client certificate (mTLS)
	ClientKeyFile  string // Path to client key (mTLS)
}
