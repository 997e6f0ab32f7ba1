package catalog

import (
	"strings"
	"testing"
)

func TestValidateResourceName(t *testing.T) {
	valid := []string{"a", "events", "my_table_2", "a1", "x_y_z", strings.Repeat("a", 255)}
	for _, name := range valid {
		if err := ValidateResourceName(name); err != nil {
			t.Errorf("ValidateResourceName(%q): %v", name, err)
		}
	}

	invalid := []string{
		"",
		strings.Repeat("a", 256),
		"Uppercase",
		"has-dash",
		"has.dot",
		"_leading",
		"trailing_",
		"awsbucket",
		"aws_anything",
		"catalog--iceberg",
		"catalog--s3-table",
	}
	for _, name := range invalid {
		if err := ValidateResourceName(name); err == nil {
			t.Errorf("ValidateResourceName(%q) unexpectedly passed", name)
		}
	}
}

func TestValidateResourceNameTenantSuffix(t *testing.T) {
	if err := ValidateResourceName("data_lake", "_lake"); err == nil {
		t.Fatal("tenant-configured suffix was not rejected")
	}
	if err := ValidateResourceName("data_lake", "_pond"); err != nil {
		t.Fatalf("unrelated suffix rejected: %v", err)
	}
}

func TestInternalName(t *testing.T) {
	name := InternalName("tenant1")
	if !strings.HasPrefix(name, "tenant1_") {
		t.Fatalf("internal name %q missing tenant prefix", name)
	}
	if strings.Contains(name, "-") {
		t.Fatalf("internal name %q carries dashes", name)
	}
	if name == InternalName("tenant1") {
		t.Fatal("two internal names collided")
	}
}
