package requestfactory

import (
	"crypto/tls"
	"vault-test-support/config"

	"github.com/hashicorp/go-rootcerts"
	"github.com/pkg/errors"
)

func newTLSConfig(ssl config.SSL) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         ssl.ServerName,
		InsecureSkipVerify: ssl.Insecure, // intentional; controlled by config
	}

	if ssl.CACert != "" || ssl.CAPath != "" {
		err := rootcerts.ConfigureTLS(tlsCfg, &rootcerts.Config{
			CAFile: ssl.CACert,
			CAPath: ssl.CAPath,
		})
		if err != nil {
			return nil, errors.Wrap(err, "load CA certificates")
		}
	}

	if ssl.ClientCert != "" {
		cert, err := tls.LoadX509KeyPair(ssl.ClientCert, ssl.ClientKey)
		if err != nil {
			return nil, errors.Wrap(err, "load client certificate")
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}
