package signing

import "context"

// Status is the lifecycle state of a signing key.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// Key is a tenant signing key. Material fields are opaque here; generation
// and symmetric protection of the private key belong to the key-material
// collaborator.
type Key struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	TenantID string `json:"tenantId"`
	Status   Status `json:"status"`
	// NotBefore and NotAfter bound the key's validity, Unix milliseconds.
	NotBefore int64 `json:"notBefore"`
	NotAfter  int64 `json:"notAfter"`

	Certificate string `json:"certificate"`
	PrivateKey  string `json:"privateKey"`
	Passphrase  string `json:"passphrase"`
}

// Revoked reports whether the key has been revoked.
func (k Key) Revoked() bool {
	return k.Status == StatusRevoked
}

// Material is freshly generated signing-key material.
type Material struct {
	PrivateKey  string
	Certificate string
	Passphrase  string
}

// Generator is the key-material collaborator contract.
type Generator interface {
	GenerateSigningKey(ctx context.Context, name string, notAfter int64) (Material, error)
}

// Tenant is the minimal tenant projection rotation needs.
type Tenant struct {
	ID   string
	Name string
}

// TenantResolver resolves the root tenant whose key set rotation maintains.
type TenantResolver interface {
	RootTenant(ctx context.Context) (Tenant, error)
}
