// File: ssl/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package ssl

import (
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// Config names the PEM material one TLS context is built from. The
// engine binding is expected to disable SSLv2/SSLv3 and the session
// cache, and to derive its session-id context from the engine handle.
type Config struct {
	// CAFile is the PEM bundle peer certificates are verified
	// against. Empty skips peer verification.
	CAFile string `validate:"omitempty,filepath"`
	// CertFile is the PEM certificate presented to the peer.
	CertFile string `validate:"required,filepath"`
	// KeyFile is the PEM private key matching CertFile.
	KeyFile string `validate:"required,filepath"`
	// VerifyPeer requests peer certificate verification.
	VerifyPeer bool
}

var configValidate = validator.New()

// Validate checks the config's field constraints.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return errors.Wrap(err, "tls config")
	}
	return nil
}
