package prepare

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	vault "github.com/hashicorp/vault/api"
	"github.com/hashicorp/vault/api/auth/approle"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const defaultAppRoleMount = "approle"

type AppRoleOptions struct {
	Mount         string // defaults to "approle"
	TokenPolicies []string
	TokenTTL      time.Duration
	SecretIDTTL   time.Duration
}

func (o AppRoleOptions) mount() string {
	if o.Mount == "" {
		return defaultAppRoleMount
	}
	return trimPath(o.Mount)
}

func (v *Vault) CreateAppRole(ctx context.Context, role string, opts AppRoleOptions) error {
	payload := map[string]any{}
	if len(opts.TokenPolicies) > 0 {
		payload["token_policies"] = opts.TokenPolicies
	}
	if opts.TokenTTL > 0 {
		payload["token_ttl"] = int(opts.TokenTTL.Seconds())
	}
	if opts.SecretIDTTL > 0 {
		payload["secret_id_ttl"] = int(opts.SecretIDTTL.Seconds())
	}
	if _, err := v.Write(ctx, rolePath(opts.mount(), role), payload); err != nil {
		return err
	}
	v.log().Info("created approle", zap.String("role", role))
	return nil
}

func (v *Vault) RoleID(ctx context.Context, mount, role string) (string, error) {
	secret, err := v.Read(ctx, rolePath(mountOrDefault(mount), role)+"/role-id")
	if err != nil {
		return "", err
	}
	if secret == nil || secret.Data == nil {
		return "", errors.Errorf("no role-id for approle %q", role)
	}
	roleID, ok := secret.Data["role_id"].(string)
	if !ok || roleID == "" {
		return "", errors.New("role_id not a string or empty")
	}
	return roleID, nil
}

// GenerateSecretID returns a fresh secret-id and its TTL. A zero TTL means
// the secret-id does not expire.
func (v *Vault) GenerateSecretID(ctx context.Context, mount, role string) (string, time.Duration, error) {
	secret, err := v.Write(ctx, rolePath(mountOrDefault(mount), role)+"/secret-id", map[string]any{})
	if err != nil {
		return "", 0, err
	}
	secretID, ttlSec, err := parseSecretIDResponse(secret)
	if err != nil {
		return "", 0, err
	}
	return secretID, time.Duration(ttlSec) * time.Second, nil
}

// LoginAppRole logs in on a clone of the client so the caller's token is
// left alone.
func (v *Vault) LoginAppRole(ctx context.Context, mount, roleID, secretID string) (*vault.Secret, error) {
	client, err := v.Client.Clone()
	if err != nil {
		return nil, errors.Wrap(err, "clone vault client")
	}

	ar, err := approle.NewAppRoleAuth(roleID, &approle.SecretID{FromString: secretID},
		approle.WithMountPath(mountOrDefault(mount)))
	if err != nil {
		return nil, err
	}

	secret, err := client.Auth().Login(ctx, ar)
	if err != nil {
		return nil, errors.Wrap(err, "vault AppRole login failed")
	}
	if secret == nil || secret.Auth == nil || secret.Auth.ClientToken == "" {
		return nil, errors.New("vault login returned empty auth")
	}
	return secret, nil
}

func mountOrDefault(m string) string {
	return AppRoleOptions{Mount: m}.mount()
}

func rolePath(mount, role string) string {
	return fmt.Sprintf("auth/%s/role/%s", mount, role)
}

// Vault API returns decoded map values that can vary by type; handle carefully.
func parseSecretIDResponse(secret *vault.Secret) (secretID string, ttlSec int64, err error) {
	if secret == nil || secret.Data == nil {
		return "", 0, errors.New("empty secret response")
	}

	vSID, ok := secret.Data["secret_id"]
	if !ok {
		return "", 0, errors.New("missing secret_id in response")
	}
	secretID, ok = vSID.(string)
	if !ok || secretID == "" {
		return "", 0, errors.New("secret_id not a string or empty")
	}

	vTTL, ok := secret.Data["secret_id_ttl"]
	if !ok {
		// Some setups return "ttl" instead; allow fallback.
		vTTL, ok = secret.Data["ttl"]
	}
	if !ok {
		return secretID, 0, nil
	}
	ttlSec, ok = asInt64(vTTL)
	if !ok {
		return "", 0, errors.Errorf("could not parse secret_id_ttl: %#v", vTTL)
	}
	return secretID, ttlSec, nil
}

func asInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		return int64(t), true
	case json.Number:
		i, err := t.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}
