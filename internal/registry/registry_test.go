package registry

import (
	"context"
	"testing"

	"github.com/modulecore/lifecycle/internal/moduledef"
)

func minimalDef(id string) moduledef.Definition {
	return moduledef.Definition{
		ID:      id,
		Name:    id,
		Version: "1.0.0",
		Initialize: func() error { return nil },
		Cleanup:    func() error { return nil },
		GetHealthStatus: func() (bool, string) { return true, "" },
		GetConfigurationSchema: func() moduledef.ConfigSchema { return moduledef.ConfigSchema{} },
		ValidateConfiguration:  func(map[string]any) error { return nil },
	}
}

func TestRegister_DistinctIDsRetrievable(t *testing.T) {
	r := New(nil, nil, nil, nil, nil)
	ctx := context.Background()

	for _, id := range []string{"m1", "m2", "m3"} {
		if _, err := r.Register(ctx, minimalDef(id), SourceManual, ResolveManual); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}

	for _, id := range []string{"m1", "m2", "m3"} {
		entry, ok := r.Get(id)
		if !ok {
			t.Fatalf("expected %s to be registered", id)
		}
		if entry.Definition.ID != id {
			t.Fatalf("got wrong definition back for %s: %s", id, entry.Definition.ID)
		}
	}
}

func TestRegister_RouteConflictNamesOwner(t *testing.T) {
	r := New(nil, nil, nil, nil, nil)
	ctx := context.Background()

	first := minimalDef("owner")
	first.Routes = []moduledef.IntegrationPoint{{Kind: moduledef.IntegrationRoute, ID: "/alerts"}}
	if _, err := r.Register(ctx, first, SourceManual, ResolveManual); err != nil {
		t.Fatalf("register owner: %v", err)
	}

	second := minimalDef("challenger")
	second.Routes = []moduledef.IntegrationPoint{{Kind: moduledef.IntegrationRoute, ID: "/alerts"}}
	_, err := r.Register(ctx, second, SourceManual, ResolveManual)
	if err == nil {
		t.Fatal("expected conflict error")
	}
	conflict, ok := err.(*ConflictError)
	if !ok {
		t.Fatalf("expected *ConflictError, got %T: %v", err, err)
	}
	if conflict.ExistingOwner != "owner" {
		t.Fatalf("expected conflict to name 'owner', got %q", conflict.ExistingOwner)
	}
}

func TestRegister_OverrideReplacesPriorOwner(t *testing.T) {
	r := New(nil, nil, nil, nil, nil)
	ctx := context.Background()

	first := minimalDef("owner")
	first.Routes = []moduledef.IntegrationPoint{{Kind: moduledef.IntegrationRoute, ID: "/alerts"}}
	if _, err := r.Register(ctx, first, SourceManual, ResolveManual); err != nil {
		t.Fatalf("register owner: %v", err)
	}

	second := minimalDef("owner")
	second.Routes = []moduledef.IntegrationPoint{{Kind: moduledef.IntegrationRoute, ID: "/alerts"}}
	if _, err := r.Register(ctx, second, SourceManual, ResolveOverride); err != nil {
		t.Fatalf("override register: %v", err)
	}

	if _, ok := r.Get("owner"); !ok {
		t.Fatal("expected owner to still be registered after override")
	}
}

func TestUnregister_RevokesIntegrationsAndRemovesEntry(t *testing.T) {
	r := New(nil, nil, nil, nil, nil)
	ctx := context.Background()

	def := minimalDef("m1")
	def.Routes = []moduledef.IntegrationPoint{{Kind: moduledef.IntegrationRoute, ID: "/r"}}
	if _, err := r.Register(ctx, def, SourceManual, ResolveManual); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Unregister(ctx, "m1"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if _, ok := r.Get("m1"); ok {
		t.Fatal("expected m1 to be gone after unregister")
	}

	// The route should now be free for another module to claim.
	other := minimalDef("m2")
	other.Routes = []moduledef.IntegrationPoint{{Kind: moduledef.IntegrationRoute, ID: "/r"}}
	if _, err := r.Register(ctx, other, SourceManual, ResolveManual); err != nil {
		t.Fatalf("expected route to be reclaimable after unregister: %v", err)
	}
}

func TestRegister_RejectsMissingContract(t *testing.T) {
	r := New(nil, nil, nil, nil, nil)
	_, err := r.Register(context.Background(), moduledef.Definition{ID: "bad"}, SourceManual, ResolveManual)
	if err == nil {
		t.Fatal("expected validation error for incomplete contract")
	}
}

func TestListByCapability(t *testing.T) {
	r := New(nil, nil, nil, nil, nil)
	ctx := context.Background()

	def := minimalDef("m1")
	def.Capabilities = []moduledef.Capability{{ID: "alerting", Category: "notify"}}
	if _, err := r.Register(ctx, def, SourceManual, ResolveManual); err != nil {
		t.Fatalf("register: %v", err)
	}

	entries := r.ListByCapability("alerting")
	if len(entries) != 1 || entries[0].Definition.ID != "m1" {
		t.Fatalf("expected [m1], got %+v", entries)
	}
}
