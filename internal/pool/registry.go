package pool

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Spec is the static description of one pool taken from configuration.
type Spec struct {
	Name    string
	URL     string
	Release string
}

// ConfigError reports a missing or malformed pool description. It is fatal
// at startup.
type ConfigError struct {
	Role Role
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("pool %s: %v", e.Role, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Registry holds the fixed primary/backup pair.
type Registry struct {
	primary *Pool
	backup  *Pool
}

// NewRegistry validates both specs and builds the pair.
func NewRegistry(primary, backup Spec) (*Registry, error) {
	p, err := build(RolePrimary, primary)
	if err != nil {
		return nil, err
	}

	b, err := build(RoleBackup, backup)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(p.name, b.name) {
		return nil, &ConfigError{Role: RoleBackup, Err: errors.New("name must differ from the primary pool name")}
	}

	return &Registry{primary: p, backup: b}, nil
}

func build(role Role, spec Spec) (*Pool, error) {
	err := validation.ValidateStruct(&spec,
		validation.Field(&spec.Name, validation.Required),
		validation.Field(&spec.URL, validation.Required, validation.By(validateEndpoint)),
	)
	if err != nil {
		return nil, &ConfigError{Role: role, Err: err}
	}

	u, err := url.Parse(spec.URL)
	if err != nil {
		return nil, &ConfigError{Role: role, Err: err}
	}

	release := spec.Release
	if release == "" {
		release = spec.Name
	}

	return newPool(spec.Name, role, u, release), nil
}

func (r *Registry) Primary() *Pool {
	return r.primary
}

func (r *Registry) Backup() *Pool {
	return r.backup
}

// Pools returns the pair in primary, backup order.
func (r *Registry) Pools() []*Pool {
	return []*Pool{r.primary, r.backup}
}

// Alternate returns the other pool of the pair.
func (r *Registry) Alternate(p *Pool) *Pool {
	if p == r.primary {
		return r.backup
	}
	return r.primary
}

// ByName looks a pool up by its configured name.
func (r *Registry) ByName(name string) (*Pool, bool) {
	for _, p := range r.Pools() {
		if p.name == name {
			return p, true
		}
	}
	return nil, false
}

func validateEndpoint(value interface{}) error {
	raw, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if u.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}
