package config

import (
	"strings"
	"testing"
)

func TestDefaultCatalogValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default catalog must validate: %v", err)
	}
}

func validBase() *Config {
	cfg := &Config{}
	cfg.Catalog.Types = []TypeDef{
		{ID: "corruption", Label: "Corruption"},
		{ID: "fraude", Label: "Fraude"},
	}
	cfg.Catalog.Roles = []RoleDef{
		{ID: "agent_a", Label: "A", Types: []string{"corruption"}, Rank: 1},
		{ID: "agent_b", Label: "B", Types: []string{"fraude"}, Rank: 2},
	}
	return cfg
}

func TestValidateRejectsInconsistentCatalog(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "role lists unknown type",
			mutate:  func(c *Config) { c.Catalog.Roles[0].Types = []string{"corruption", "braconnage"} },
			wantErr: "unknown type",
		},
		{
			name: "type accepted by no role",
			mutate: func(c *Config) {
				c.Catalog.Types = append(c.Catalog.Types, TypeDef{ID: "extorsion", Label: "Extorsion"})
			},
			wantErr: "accepted by no role",
		},
		{
			name:    "duplicate role",
			mutate:  func(c *Config) { c.Catalog.Roles[1].ID = "agent_a"; c.Catalog.Roles[1].Rank = 2 },
			wantErr: "duplicate role",
		},
		{
			name:    "duplicate type",
			mutate:  func(c *Config) { c.Catalog.Types[1].ID = "corruption" },
			wantErr: "duplicate type",
		},
		{
			name:    "shared rank",
			mutate:  func(c *Config) { c.Catalog.Roles[1].Rank = 1 },
			wantErr: "share rank",
		},
		{
			name:    "role accepts nothing",
			mutate:  func(c *Config) { c.Catalog.Roles[0].Types = nil },
			wantErr: "accepts no types",
		},
		{
			name:    "webhook without url",
			mutate:  func(c *Config) { c.Webhooks = []WebhookConfig{{Events: []string{"report.created"}}} },
			wantErr: "url is required",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validBase()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestFromYAML(t *testing.T) {
	raw := `
service:
  name: ndjobi
catalog:
  types:
    - id: corruption
      label: Corruption
  roles:
    - id: agent_a
      label: Agent A
      types: [corruption]
      rank: 1
security:
  authority_roles: [president]
`
	cfg, err := FromYAML([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Catalog.Roles[0].Rank != 1 {
		t.Fatalf("rank not parsed: %+v", cfg.Catalog.Roles[0])
	}
	if len(cfg.Security.AuthorityRoles) != 1 || cfg.Security.AuthorityRoles[0] != "president" {
		t.Fatalf("authority roles not parsed: %+v", cfg.Security.AuthorityRoles)
	}

	if _, err := FromYAML([]byte("catalog: {types: [], roles: []}")); err == nil {
		t.Fatal("empty catalog must be rejected")
	}
}
