package sensors

import (
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	csv := `entity_id,friendly_name,group
sensor.mains_energy,Mains,house
sensor.garage_energy,Garage,
sensor.mains_energy,Duplicate Mains,house
sensor.attic_energy,,
`
	specs, err := Parse(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(specs) != 3 {
		t.Fatalf("expected 3 sensors (duplicate dropped), got %d", len(specs))
	}
	if specs[0].EntityID != "sensor.mains_energy" || specs[0].FriendlyName != "Mains" || specs[0].Group != "house" {
		t.Errorf("unexpected first spec: %+v", specs[0])
	}
	// Missing friendly name falls back to the entity id.
	if specs[2].FriendlyName != "sensor.attic_energy" {
		t.Errorf("expected entity id fallback, got %q", specs[2].FriendlyName)
	}
}

func TestParse_HeaderVariants(t *testing.T) {
	// Column order and case should not matter.
	csv := "Friendly_Name, Entity_ID\nMains,sensor.mains_energy\n"
	specs, err := Parse(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(specs) != 1 || specs[0].EntityID != "sensor.mains_energy" {
		t.Errorf("unexpected specs: %+v", specs)
	}
}

func TestParse_Errors(t *testing.T) {
	if _, err := Parse(strings.NewReader("friendly_name\nMains\n")); err == nil {
		t.Error("expected error for missing entity_id column")
	}
	if _, err := Parse(strings.NewReader("entity_id\n")); err == nil {
		t.Error("expected error for empty sensor list")
	}
}
