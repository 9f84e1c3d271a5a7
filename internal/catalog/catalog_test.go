package catalog_test

import (
	"testing"

	"ndjobi/internal/catalog"
	"ndjobi/internal/config"
)

func TestRolesForRankOrder(t *testing.T) {
	cfg := &config.Config{}
	cfg.Catalog.Types = []config.TypeDef{{ID: "partage", Label: "Partagé"}}
	cfg.Catalog.Roles = []config.RoleDef{
		{ID: "role_c", Label: "C", Types: []string{"partage"}, Rank: 3},
		{ID: "role_a", Label: "A", Types: []string{"partage"}, Rank: 1},
		{ID: "role_b", Label: "B", Types: []string{"partage"}, Rank: 2},
	}
	cat, err := catalog.New(cfg)
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	candidates := cat.RolesFor("partage")
	if len(candidates) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(candidates))
	}
	for i, want := range []string{"role_a", "role_b", "role_c"} {
		if candidates[i].ID != want {
			t.Fatalf("candidate %d: want %s, got %s", i, want, candidates[i].ID)
		}
	}
	if cat.RolesFor("inconnu") != nil && len(cat.RolesFor("inconnu")) != 0 {
		t.Fatal("unknown type must yield no candidates")
	}
}

func TestDefaultCatalogLookups(t *testing.T) {
	cat, err := catalog.New(config.Default())
	if err != nil {
		t.Fatalf("build default catalog: %v", err)
	}
	types := cat.AllowedTypes("agent_anticorruption")
	if len(types) != 2 {
		t.Fatalf("unexpected anticorruption types: %v", types)
	}
	if !cat.HasType("corruption") || cat.HasType("braconnage") {
		t.Fatal("HasType mismatch")
	}
	if cat.TypeLabel("detournement") != "Détournement de fonds" {
		t.Fatalf("label lookup: %s", cat.TypeLabel("detournement"))
	}
	if cat.TypeLabel("inconnu") != "inconnu" {
		t.Fatal("unknown type label should fall back to the id")
	}
	roles := cat.Roles()
	for i := 1; i < len(roles); i++ {
		if roles[i-1].Rank >= roles[i].Rank {
			t.Fatalf("roles not in rank order: %v", roles)
		}
	}
	if err := func() error { _, err := catalog.New(&config.Config{}); return err }(); err == nil {
		t.Fatal("empty config must be rejected")
	}
}
