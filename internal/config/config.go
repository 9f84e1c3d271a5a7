package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config models ndjobi.yml: the routing catalog plus service settings.
type Config struct {
	Service struct {
		Name     string `yaml:"name"`
		BasePath string `yaml:"base_path"`
	} `yaml:"service"`
	Catalog struct {
		Types []TypeDef `yaml:"types"`
		Roles []RoleDef `yaml:"roles"`
	} `yaml:"catalog"`
	Security struct {
		// AuthorityRoles may record decisions on sensitive cases.
		AuthorityRoles []string `yaml:"authority_roles"`
		// AdminRoles may act on any report regardless of queue.
		AdminRoles []string `yaml:"admin_roles"`
	} `yaml:"security"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// TypeDef declares one report type of the catalog.
type TypeDef struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
}

// RoleDef declares one specialized agent queue and the types it accepts.
type RoleDef struct {
	ID          string   `yaml:"id"`
	Label       string   `yaml:"label"`
	Description string   `yaml:"description"`
	Types       []string `yaml:"types"`
	// Rank breaks exact load ties during routing; lower wins.
	Rank int `yaml:"rank"`
}

// WebhookConfig declares an event-delivery target.
type WebhookConfig struct {
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
	Secret string   `yaml:"secret"`
}

// Load reads and validates config from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates raw YAML config.
func FromYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the catalog mapping is consistent. Routing must be able to
// rely on it without call-time checks, so any inconsistency is a load error.
func (c *Config) Validate() error {
	if len(c.Catalog.Types) == 0 {
		return fmt.Errorf("config.catalog.types must not be empty")
	}
	if len(c.Catalog.Roles) == 0 {
		return fmt.Errorf("config.catalog.roles must not be empty")
	}
	types := map[string]bool{}
	for _, t := range c.Catalog.Types {
		if t.ID == "" {
			return fmt.Errorf("config.catalog.types: id is required")
		}
		if types[t.ID] {
			return fmt.Errorf("config.catalog.types: duplicate type %s", t.ID)
		}
		types[t.ID] = true
	}
	covered := map[string]bool{}
	roles := map[string]bool{}
	ranks := map[int]string{}
	for _, r := range c.Catalog.Roles {
		if r.ID == "" {
			return fmt.Errorf("config.catalog.roles: id is required")
		}
		if roles[r.ID] {
			return fmt.Errorf("config.catalog.roles: duplicate role %s", r.ID)
		}
		roles[r.ID] = true
		if other, ok := ranks[r.Rank]; ok {
			return fmt.Errorf("config.catalog.roles: roles %s and %s share rank %d", other, r.ID, r.Rank)
		}
		ranks[r.Rank] = r.ID
		if len(r.Types) == 0 {
			return fmt.Errorf("config.catalog.roles: role %s accepts no types", r.ID)
		}
		for _, t := range r.Types {
			if !types[t] {
				return fmt.Errorf("config.catalog.roles: role %s lists unknown type %s", r.ID, t)
			}
			covered[t] = true
		}
	}
	for _, t := range c.Catalog.Types {
		if !covered[t.ID] {
			return fmt.Errorf("config.catalog.types: type %s is accepted by no role", t.ID)
		}
	}
	for _, role := range c.Security.AuthorityRoles {
		if role == "" {
			return fmt.Errorf("config.security.authority_roles: empty role")
		}
	}
	for i, w := range c.Webhooks {
		if w.URL == "" {
			return fmt.Errorf("config.webhooks[%d]: url is required", i)
		}
	}
	return nil
}

// ToYAML serializes the config.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Default returns the platform's standing catalog: the fixed set of report
// types and the specialized queues that receive them.
func Default() *Config {
	cfg := &Config{}
	cfg.Service.Name = "ndjobi"
	cfg.Service.BasePath = "/v1"
	cfg.Catalog.Types = []TypeDef{
		{ID: "corruption", Label: "Corruption"},
		{ID: "detournement", Label: "Détournement de fonds"},
		{ID: "extorsion", Label: "Extorsion"},
		{ID: "abus_pouvoir", Label: "Abus de pouvoir"},
		{ID: "favoritisme", Label: "Favoritisme"},
		{ID: "fraude", Label: "Fraude"},
		{ID: "defense", Label: "Affaires de défense"},
		{ID: "securite", Label: "Sécurité nationale"},
		{ID: "renseignement", Label: "Renseignement"},
		{ID: "autre", Label: "Autre"},
	}
	cfg.Catalog.Roles = []RoleDef{
		{
			ID:          "agent_anticorruption",
			Label:       "Agent Anti-Corruption",
			Description: "Lutte contre la corruption et le détournement de fonds",
			Types:       []string{"corruption", "detournement"},
			Rank:        1,
		},
		{
			ID:          "agent_justice",
			Label:       "Agent Justice",
			Description: "Abus de pouvoir et fraude judiciaire",
			Types:       []string{"abus_pouvoir", "fraude"},
			Rank:        2,
		},
		{
			ID:          "agent_interior",
			Label:       "Agent Intérieur",
			Description: "Affaires administratives et favoritisme",
			Types:       []string{"extorsion", "favoritisme", "autre"},
			Rank:        3,
		},
		{
			ID:          "agent_defense",
			Label:       "Agent Défense",
			Description: "Défense nationale et affaires militaires",
			Types:       []string{"defense"},
			Rank:        4,
		},
		{
			ID:          "sub_admin_dgss",
			Label:       "Sous-Admin DGSS",
			Description: "Direction Générale de la Sécurité et de la Surveillance",
			Types:       []string{"securite"},
			Rank:        5,
		},
		{
			ID:          "sub_admin_dgr",
			Label:       "Sous-Admin DGR",
			Description: "Direction Générale du Renseignement",
			Types:       []string{"renseignement"},
			Rank:        6,
		},
	}
	cfg.Security.AuthorityRoles = []string{"president", "super_admin"}
	cfg.Security.AdminRoles = []string{"admin", "super_admin"}
	return cfg
}
