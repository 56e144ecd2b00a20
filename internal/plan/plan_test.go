package plan

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bintrader/internal/order"
)

func TestParse_ValidPlan(t *testing.T) {
	raw := []byte(`
- symbol: EURUSD-OTC
  direction: up
  stake: 1
- symbol: GBPUSD-OTC
  direction: down
  stake: 2.50
`)
	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if p.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", p.Len())
	}

	first := p.Entries[0]
	if first.Symbol != "EURUSD-OTC" || first.Direction != order.DirectionUp {
		t.Errorf("unexpected first entry: %+v", first)
	}
	if first.Duration != order.FixedDuration {
		t.Errorf("expected fixed duration, got %v", first.Duration)
	}
	if p.Entries[1].Stake.String() != "2.5" {
		t.Errorf("stake lost precision: %s", p.Entries[1].Stake)
	}
}

func TestParse_StakeKeepsDecimalLiteral(t *testing.T) {
	// 0.1 经由 float64 会变成 0.1000000000000000055...，
	// 字面量解析必须保持精确。
	p, err := Parse([]byte("- symbol: EURUSD-OTC\n  direction: up\n  stake: 0.1\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if p.Entries[0].Stake.String() != "0.1" {
		t.Errorf("expected 0.1, got %s", p.Entries[0].Stake)
	}
}

func TestParse_EmptyFileIsEmptyPlan(t *testing.T) {
	p, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if p.Len() != 0 {
		t.Errorf("expected empty plan, got %d entries", p.Len())
	}
}

func TestParse_UnknownFieldRejected(t *testing.T) {
	raw := []byte(`
- symbol: EURUSD-OTC
  direction: up
  stake: 1
  expiry: 5
`)
	if _, err := Parse(raw); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParse_InvalidDirection(t *testing.T) {
	raw := []byte("- symbol: EURUSD-OTC\n  direction: call\n  stake: 1\n")
	_, err := Parse(raw)
	if err == nil {
		t.Fatal("expected error for invalid direction")
	}
	if !strings.Contains(err.Error(), "direction") {
		t.Errorf("error should name the field: %v", err)
	}
}

func TestParse_NonPositiveStake(t *testing.T) {
	for _, stake := range []string{"0", "-1", "-0.5"} {
		raw := []byte("- symbol: EURUSD-OTC\n  direction: up\n  stake: " + stake + "\n")
		if _, err := Parse(raw); err == nil {
			t.Errorf("expected error for stake %s", stake)
		}
	}
}

func TestParse_MissingFieldsCollected(t *testing.T) {
	raw := []byte(`
- direction: up
  stake: 1
- symbol: EURUSD-OTC
  direction: up
`)
	_, err := Parse(raw)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	// 两个条目的问题应一次性报告。
	if !strings.Contains(err.Error(), "条目 0") || !strings.Contains(err.Error(), "条目 1") {
		t.Errorf("expected both entries reported: %v", err)
	}
}

func TestParse_DuplicateEntriesAllowed(t *testing.T) {
	raw := []byte(`
- symbol: EURUSD-OTC
  direction: up
  stake: 1
- symbol: EURUSD-OTC
  direction: up
  stake: 1
`)
	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if p.Len() != 2 {
		t.Errorf("duplicates must yield independent entries, got %d", p.Len())
	}
}

func TestParse_NonNumericStake(t *testing.T) {
	raw := []byte("- symbol: EURUSD-OTC\n  direction: up\n  stake: lots\n")
	if _, err := Parse(raw); err == nil {
		t.Fatal("expected error for non-numeric stake")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")
	content := "- symbol: USDJPY-OTC\n  direction: down\n  stake: 3\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write plan: %v", err)
	}

	p, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if p.Len() != 1 || p.Entries[0].Symbol != "USDJPY-OTC" {
		t.Errorf("unexpected plan: %+v", p.Entries)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
