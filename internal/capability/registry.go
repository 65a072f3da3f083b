package capability

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Provider is one entry in the catalog offered for provider selection.
type Provider struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Address     string `json:"address"`
}

// Registry holds the configured provider catalog and optional signed pins
// for each provider's discovered capability set.
type Registry struct {
	providers []Provider
	byName    map[string]Provider
	pins      map[string]string
	secret    string
}

// ErrCatalogPin indicates a provider served a capability set that does not
// match its pinned signature.
var ErrCatalogPin = fmt.Errorf("capability catalog pin mismatch")

// NewRegistry validates the catalog. Provider names must be unique and
// addresses must carry a supported scheme.
func NewRegistry(providers []Provider, pins map[string]string, signingSecret string) (*Registry, error) {
	reg := &Registry{
		providers: make([]Provider, 0, len(providers)),
		byName:    make(map[string]Provider),
		pins:      pins,
		secret:    signingSecret,
	}
	for _, p := range providers {
		if strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("provider with empty name")
		}
		if _, ok := reg.byName[p.Name]; ok {
			return nil, fmt.Errorf("duplicate provider %q", p.Name)
		}
		if !strings.HasPrefix(p.Address, "http://") && !strings.HasPrefix(p.Address, "https://") && !strings.HasPrefix(p.Address, "stdio:") {
			return nil, fmt.Errorf("provider %q: unsupported address %q", p.Name, p.Address)
		}
		reg.byName[p.Name] = p
		reg.providers = append(reg.providers, p)
	}
	if len(pins) > 0 && signingSecret == "" {
		return nil, fmt.Errorf("catalog pins require a signing secret")
	}
	for name := range pins {
		if _, ok := reg.byName[name]; !ok {
			return nil, fmt.Errorf("pin for unknown provider %q", name)
		}
	}
	return reg, nil
}

// Providers returns the catalog in configured order.
func (r *Registry) Providers() []Provider {
	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// Provider looks up a catalog entry by name.
func (r *Registry) Provider(name string) (Provider, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// VerifyCatalog checks a provider's discovered capabilities against its pin.
// Providers without a pin always pass.
func (r *Registry) VerifyCatalog(name string, caps []Capability) error {
	pin, ok := r.pins[name]
	if !ok {
		return nil
	}
	sig, err := SignCatalog(caps, r.secret)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(sig), []byte(pin)) {
		return fmt.Errorf("%w: provider %s", ErrCatalogPin, name)
	}
	return nil
}

// ComputeChecksum returns a deterministic hash of a capability set. The set
// is sorted by name so ordering differences do not change the checksum.
func ComputeChecksum(caps []Capability) (string, error) {
	sorted := make([]Capability, len(caps))
	copy(sorted, caps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	payload := make([]map[string]any, 0, len(sorted))
	for _, c := range sorted {
		payload = append(payload, map[string]any{
			"name":         c.Name,
			"description":  c.Description,
			"input_schema": c.InputSchema,
		})
	}
	normalized, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:]), nil
}

// SignCatalog computes the HMAC signature of a capability set checksum. The
// hex string is what a catalog pin stores.
func SignCatalog(caps []Capability, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("signing secret is empty")
	}
	checksum, err := ComputeChecksum(caps)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(checksum))
	return hex.EncodeToString(mac.Sum(nil)), nil
}
