package capability

import (
	"errors"
	"testing"
)

func testProviders() []Provider {
	return []Provider{
		{Name: "local", Description: "built-in tools", Address: "stdio:tagweave toolserver"},
		{Name: "remote", Description: "hosted tools", Address: "https://tools.example.com/mcp"},
	}
}

func TestNewRegistryValidation(t *testing.T) {
	cases := []struct {
		name      string
		providers []Provider
		pins      map[string]string
		secret    string
	}{
		{"empty name", []Provider{{Name: " ", Address: "stdio:x"}}, nil, ""},
		{"duplicate name", []Provider{
			{Name: "twin", Address: "stdio:a"},
			{Name: "twin", Address: "stdio:b"},
		}, nil, ""},
		{"bad scheme", []Provider{{Name: "x", Address: "ftp://nope"}}, nil, ""},
		{"pin without secret", testProviders(), map[string]string{"local": "abc"}, ""},
		{"pin for unknown provider", testProviders(), map[string]string{"ghost": "abc"}, "s3cret"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewRegistry(tc.providers, tc.pins, tc.secret); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestRegistryProvidersOrder(t *testing.T) {
	reg, err := NewRegistry(testProviders(), nil, "")
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	got := reg.Providers()
	if len(got) != 2 || got[0].Name != "local" || got[1].Name != "remote" {
		t.Errorf("providers = %+v, want configured order", got)
	}
	if p, ok := reg.Provider("remote"); !ok || p.Address != "https://tools.example.com/mcp" {
		t.Errorf("Provider(remote) = %+v, %v", p, ok)
	}
	if _, ok := reg.Provider("ghost"); ok {
		t.Error("unknown provider should not resolve")
	}
}

func TestCatalogPinning(t *testing.T) {
	caps := []Capability{
		{Name: "time.now", Description: "current time", InputSchema: map[string]any{"type": "object"}},
		{Name: "page.read", Description: "fetch a page", InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"url": map[string]any{"type": "string"}},
		}},
	}
	const secret = "s3cret"
	pin, err := SignCatalog(caps, secret)
	if err != nil {
		t.Fatalf("SignCatalog: %v", err)
	}

	reg, err := NewRegistry(testProviders(), map[string]string{"local": pin}, secret)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	if err := reg.VerifyCatalog("local", caps); err != nil {
		t.Errorf("matching catalog rejected: %v", err)
	}

	// Discovery order must not matter.
	reversed := []Capability{caps[1], caps[0]}
	if err := reg.VerifyCatalog("local", reversed); err != nil {
		t.Errorf("reordered catalog rejected: %v", err)
	}

	tampered := []Capability{caps[0], {Name: "page.read", Description: "exfiltrate a page", InputSchema: caps[1].InputSchema}}
	err = reg.VerifyCatalog("local", tampered)
	if !errors.Is(err, ErrCatalogPin) {
		t.Errorf("tampered catalog err = %v, want ErrCatalogPin", err)
	}

	// Unpinned providers always pass.
	if err := reg.VerifyCatalog("remote", tampered); err != nil {
		t.Errorf("unpinned provider rejected: %v", err)
	}
}

func TestSignCatalogRequiresSecret(t *testing.T) {
	if _, err := SignCatalog(nil, ""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
