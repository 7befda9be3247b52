package common

import "testing"

func TestEntityCloneIsDeep(t *testing.T) {
	e := Entity{
		Labels:     map[string]string{"tier": "gold"},
		Tags:       []string{"pci"},
		Metadata:   map[string]any{"nested": map[string]any{"k": "v"}},
		Properties: map[string]any{"databases": []any{"orders-db"}},
		Lifecycle:  LifecycleInfo{Maintainers: []string{"ana"}},
	}
	c := e.Clone()

	c.Labels["tier"] = "x"
	c.Tags[0] = "x"
	c.Metadata["nested"].(map[string]any)["k"] = "x"
	c.Properties["databases"].([]any)[0] = "x"
	c.Lifecycle.Maintainers[0] = "x"

	if e.Labels["tier"] != "gold" || e.Tags[0] != "pci" || e.Lifecycle.Maintainers[0] != "ana" {
		t.Fatalf("clone shares labels, tags or maintainers: %+v", e)
	}
	if e.Metadata["nested"].(map[string]any)["k"] != "v" {
		t.Fatal("clone shares nested metadata")
	}
	if e.Properties["databases"].([]any)[0] != "orders-db" {
		t.Fatal("clone shares property slices")
	}
}

func TestCloneKeepsNilMaps(t *testing.T) {
	c := Entity{Name: "a"}.Clone()
	if c.Labels != nil || c.Properties != nil || c.Tags != nil {
		t.Fatalf("clone allocated empty fields: %+v", c)
	}
}
