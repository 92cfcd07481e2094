// Package prepare sets up a Vault server for integration tests: secret
// backends, auth methods, policies, tokens and AppRoles.
package prepare

import (
	"context"
	"sort"
	"strings"
	"vault-test-support/logging"

	vault "github.com/hashicorp/vault/api"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Vault struct {
	Client *vault.Client
	Log    *zap.Logger
}

func (v *Vault) log() *zap.Logger { return logging.OrNop(v.Log) }

func (v *Vault) Health(ctx context.Context) (*vault.HealthResponse, error) {
	return v.Client.Sys().HealthWithContext(ctx)
}

// IsAvailable reports whether Vault answers and is initialized and unsealed.
func (v *Vault) IsAvailable(ctx context.Context) bool {
	h, err := v.Health(ctx)
	if err != nil {
		v.log().Debug("vault health check failed", zap.Error(err))
		return false
	}
	return h.Initialized && !h.Sealed
}

// MountSecret enables a secret engine of the given type at path.
func (v *Vault) MountSecret(ctx context.Context, path, typ string) error {
	path = trimPath(path)
	if err := v.Client.Sys().MountWithContext(ctx, path, &vault.MountInput{Type: typ}); err != nil {
		return errors.Wrapf(err, "mount %s at %s", typ, path)
	}
	v.log().Info("mounted secret backend", zap.String("path", path), zap.String("type", typ))
	return nil
}

func (v *Vault) HasSecretBackend(ctx context.Context, path string) (bool, error) {
	mounts, err := v.Client.Sys().ListMountsWithContext(ctx)
	if err != nil {
		return false, errors.Wrap(err, "list mounts")
	}
	_, ok := mounts[trimPath(path)+"/"]
	return ok, nil
}

// SecretBackends lists mount paths, without trailing slash, sorted.
func (v *Vault) SecretBackends(ctx context.Context) ([]string, error) {
	mounts, err := v.Client.Sys().ListMountsWithContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list mounts")
	}
	paths := make([]string, 0, len(mounts))
	for p := range mounts {
		paths = append(paths, trimPath(p))
	}
	sort.Strings(paths)
	return paths, nil
}

// EnableAuth enables the auth method typ at its default path.
func (v *Vault) EnableAuth(ctx context.Context, typ string) error {
	err := v.Client.Sys().EnableAuthWithOptionsWithContext(ctx, typ, &vault.EnableAuthOptions{Type: typ})
	if err != nil {
		return errors.Wrapf(err, "enable auth %s", typ)
	}
	v.log().Info("enabled auth method", zap.String("type", typ))
	return nil
}

func (v *Vault) HasAuth(ctx context.Context, path string) (bool, error) {
	auths, err := v.Client.Sys().ListAuthWithContext(ctx)
	if err != nil {
		return false, errors.Wrap(err, "list auth methods")
	}
	_, ok := auths[trimPath(path)+"/"]
	return ok, nil
}

func (v *Vault) WritePolicy(ctx context.Context, name, rules string) error {
	if err := v.Client.Sys().PutPolicyWithContext(ctx, name, rules); err != nil {
		return errors.Wrapf(err, "write policy %s", name)
	}
	return nil
}

// CreateToken issues a child token carrying policies.
func (v *Vault) CreateToken(ctx context.Context, policies ...string) (string, error) {
	secret, err := v.Client.Auth().Token().CreateWithContext(ctx, &vault.TokenCreateRequest{
		Policies: policies,
	})
	if err != nil {
		return "", errors.Wrap(err, "create token")
	}
	if secret == nil || secret.Auth == nil || secret.Auth.ClientToken == "" {
		return "", errors.New("token create returned empty auth")
	}
	return secret.Auth.ClientToken, nil
}

func (v *Vault) Write(ctx context.Context, path string, data map[string]any) (*vault.Secret, error) {
	secret, err := v.Client.Logical().WriteWithContext(ctx, trimPath(path), data)
	if err != nil {
		return nil, errors.Wrapf(err, "write %s", path)
	}
	return secret, nil
}

// Read returns nil, nil when nothing exists at path.
func (v *Vault) Read(ctx context.Context, path string) (*vault.Secret, error) {
	secret, err := v.Client.Logical().ReadWithContext(ctx, trimPath(path))
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return secret, nil
}

func trimPath(p string) string {
	return strings.Trim(p, "/")
}
