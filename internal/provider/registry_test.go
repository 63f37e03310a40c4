package provider

import (
	"testing"

	"mdsaad/internal/config"
)

type recordingResetter struct {
	ids []string
}

func (r *recordingResetter) Reset(id string) { r.ids = append(r.ids, id) }

func testProviders() []Provider {
	return []Provider{
		{ID: "beta", Priority: 2, Enabled: true, Keyless: true, Capabilities: []Capability{CapChat}},
		{ID: "alpha", Priority: 1, Enabled: true, Keyless: true, Capabilities: []Capability{CapChat},
			DefaultModel: "alpha-large", ModelAliases: map[string]string{"fast": "alpha-small"}},
		{ID: "aaa", Priority: 2, Enabled: true, Keyless: true, Capabilities: []Capability{CapWeatherCurrent}},
	}
}

func TestListByCapabilityOrder(t *testing.T) {
	reg := NewRegistry(testProviders(), nil, nil)
	got := reg.ListByCapability(CapChat)
	if len(got) != 2 {
		t.Fatalf("expected 2 chat providers, got %d", len(got))
	}
	if got[0].ID != "alpha" || got[1].ID != "beta" {
		t.Fatalf("expected priority order alpha,beta, got %s,%s", got[0].ID, got[1].ID)
	}
}

func TestAllSortsByPriorityThenID(t *testing.T) {
	reg := NewRegistry(testProviders(), nil, nil)
	all := reg.All()
	wantOrder := []string{"alpha", "aaa", "beta"}
	for i, want := range wantOrder {
		if all[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, all[i].ID)
		}
	}
}

func TestSetEnabled(t *testing.T) {
	reg := NewRegistry(testProviders(), nil, nil)
	if err := reg.SetEnabled("alpha", false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	p, ok := reg.Get("alpha")
	if !ok || p.Enabled {
		t.Fatalf("expected alpha disabled, got ok=%v enabled=%v", ok, p.Enabled)
	}
	if err := reg.SetEnabled("nope", true); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

func TestResetCircuitDelegates(t *testing.T) {
	rec := &recordingResetter{}
	reg := NewRegistry(testProviders(), rec, nil)
	if err := reg.ResetCircuit("alpha"); err != nil {
		t.Fatalf("ResetCircuit: %v", err)
	}
	if len(rec.ids) != 1 || rec.ids[0] != "alpha" {
		t.Fatalf("expected delegated reset for alpha, got %v", rec.ids)
	}
	if err := reg.ResetCircuit("nope"); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

func TestProviderForModel(t *testing.T) {
	reg := NewRegistry(testProviders(), nil, nil)

	if id, ok := reg.ProviderForModel("fast"); !ok || id != "alpha" {
		t.Fatalf("alias lookup: got %q ok=%v", id, ok)
	}
	if id, ok := reg.ProviderForModel("alpha-large"); !ok || id != "alpha" {
		t.Fatalf("default model lookup: got %q ok=%v", id, ok)
	}
	if id, ok := reg.ProviderForModel("alpha-small"); !ok || id != "alpha" {
		t.Fatalf("alias target lookup: got %q ok=%v", id, ok)
	}
	if _, ok := reg.ProviderForModel("unknown-model"); ok {
		t.Fatalf("unknown model should not resolve")
	}
	if _, ok := reg.ProviderForModel(""); ok {
		t.Fatalf("empty model should not resolve")
	}
}

func TestFromConfigMergesCredentialsAndOverrides(t *testing.T) {
	cfg := config.Default(t.TempDir())
	cfg.APIKeys["openrouter"] = "sk-test"
	pri := 7
	off := false
	cfg.Providers["groq"] = config.ProviderOverride{
		BaseURL:  "http://127.0.0.1:9999/v1",
		Priority: &pri,
		Enabled:  &off,
	}

	reg := FromConfig(cfg, nil, nil)

	or, ok := reg.Get("openrouter")
	if !ok || or.Credential != "sk-test" {
		t.Fatalf("expected openrouter credential applied, got %+v", or)
	}
	if !or.Configured() {
		t.Fatalf("openrouter should be configured with a key")
	}
	gq, _ := reg.Get("groq")
	if gq.BaseURL != "http://127.0.0.1:9999/v1" || gq.Priority != 7 || gq.Enabled {
		t.Fatalf("groq override not applied: %+v", gq)
	}
	ds, _ := reg.Get("deepseek")
	if ds.Configured() {
		t.Fatalf("deepseek has no key and must be unconfigured")
	}
	er, _ := reg.Get("open-er-api")
	if !er.Configured() {
		t.Fatalf("keyless providers are always configured")
	}
}

func TestConfiguredPlaceholderKey(t *testing.T) {
	p := Provider{ID: "x", Credential: "YOUR_API_KEY_HERE"}
	if p.Configured() {
		t.Fatalf("placeholder credential must not count as configured")
	}
	p.Credential = "  "
	if p.Configured() {
		t.Fatalf("blank credential must not count as configured")
	}
	p.Credential = "real-key"
	if !p.Configured() {
		t.Fatalf("real credential should count as configured")
	}
}

func TestResolveModel(t *testing.T) {
	p := Provider{DefaultModel: "base", ModelAliases: map[string]string{"fast": "vendor/fast"}}
	if got := p.ResolveModel(""); got != "base" {
		t.Fatalf("empty model should resolve to default, got %q", got)
	}
	if got := p.ResolveModel("fast"); got != "vendor/fast" {
		t.Fatalf("alias should resolve, got %q", got)
	}
	if got := p.ResolveModel("vendor/other"); got != "vendor/other" {
		t.Fatalf("qualified name should pass through, got %q", got)
	}
}
