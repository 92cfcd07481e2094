package testclient

import (
	"vault-test-support/config"
	"vault-test-support/requestfactory"

	vault "github.com/hashicorp/vault/api"
)

// NewVaultClient returns a Vault API client that shares the process-wide
// request factory with the Templates from New.
func NewVaultClient(cfg *config.Config) (*vault.Client, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if err := initializeRequestFactory(cfg); err != nil {
		return nil, err
	}
	return (&VaultClientFactory{Cfg: *cfg, Requests: CachedFactory()}).New()
}

type VaultClientFactory struct {
	Cfg      config.Config
	Requests requestfactory.RequestFactory
}

func (f *VaultClientFactory) New() (*vault.Client, error) {
	if f.Requests == nil {
		return nil, ErrNilFactory
	}
	// vault.NewClient rewrites CheckRedirect on the client it gets.
	hc := *f.Requests.HTTPClient()

	vcfg := &vault.Config{
		Address:    f.Cfg.Address(),
		HttpClient: &hc,
		Timeout:    f.Cfg.ReadTimeout,
	}
	client, err := vault.NewClient(vcfg)
	if err != nil {
		return nil, err
	}
	if f.Cfg.Namespace != "" {
		client.SetNamespace(f.Cfg.Namespace)
	}
	if f.Cfg.Token != "" {
		client.SetToken(f.Cfg.Token)
	}
	client.SetReadYourWrites(true)
	client.SetClientTimeout(f.Cfg.ReadTimeout)

	return client, nil
}
