package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	t.Parallel()

	t.Run("reads lots in file order", func(t *testing.T) {
		c, err := Parse(strings.NewReader(`[
			{"id": "lot-velo", "name": "Vélo", "image": "velo.jpg", "price": "5.00", "capacity": 200},
			{"id": "lot-soutien", "name": "Soutien", "price": 1, "capacity": null}
		]`))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		lots := c.List(context.Background())
		if len(lots) != 2 || lots[0].ID != "lot-velo" || lots[1].ID != "lot-soutien" {
			t.Fatalf("unexpected lots %+v", lots)
		}
		if lots[0].UnitPriceCents != 500 || *lots[0].Capacity != 200 || lots[0].Image != "velo.jpg" {
			t.Fatalf("unexpected first lot %+v", lots[0])
		}
		if lots[1].UnitPriceCents != 100 || lots[1].Capacity != nil {
			t.Fatalf("expected unbounded lot at 1.00, got %+v", lots[1])
		}

		lot, err := c.GetLot(context.Background(), "lot-velo")
		if err != nil || lot.Name != "Vélo" {
			t.Fatalf("unexpected GetLot %+v (%v)", lot, err)
		}
		if _, err := c.GetLot(context.Background(), "nope"); !errors.Is(err, ErrLotNotFound) {
			t.Fatalf("expected ErrLotNotFound, got %v", err)
		}
	})

	t.Run("rejects invalid entries", func(t *testing.T) {
		cases := map[string]string{
			"missing id":        `[{"name": "x", "price": "1"}]`,
			"duplicate id":      `[{"id": "a", "price": "1"}, {"id": "a", "price": "2"}]`,
			"negative capacity": `[{"id": "a", "price": "1", "capacity": -1}]`,
			"missing price":     `[{"id": "a"}]`,
			"three decimals":    `[{"id": "a", "price": "1.005"}]`,
			"not an array":      `{"id": "a"}`,
		}
		for name, body := range cases {
			if _, err := Parse(strings.NewReader(body)); err == nil {
				t.Fatalf("%s: expected error", name)
			}
		}
	})

	t.Run("list is a copy", func(t *testing.T) {
		c, err := Parse(strings.NewReader(`[{"id": "a", "name": "A", "price": "1"}]`))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		lots := c.List(context.Background())
		lots[0].Name = "changed"
		if got, _ := c.GetLot(context.Background(), "a"); got.Name != "A" {
			t.Fatalf("expected catalog unchanged, got %q", got.Name)
		}
	})
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "lots.json")
	if err := os.WriteFile(path, []byte(`[{"id": "a", "name": "A", "price": "2.50", "capacity": 3}]`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if lot, _ := c.GetLot(context.Background(), "a"); lot.UnitPriceCents != 250 {
		t.Fatalf("expected 250 cents, got %d", lot.UnitPriceCents)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestParsePriceCents(t *testing.T) {
	t.Parallel()

	valid := map[string]int64{
		"10":    1000,
		"10.00": 1000,
		"2.5":   250,
		"0.99":  99,
		".5":    50,
		"0":     0,
		"-1.00": -100,
		" 3 ":   300,
	}
	for in, want := range valid {
		got, err := ParsePriceCents(in)
		if err != nil || got != want {
			t.Fatalf("ParsePriceCents(%q) = %d, %v; want %d", in, got, err, want)
		}
	}
	for _, in := range []string{"", "null", "abc", "1.234", "1.-5", "--1", "1e3"} {
		if _, err := ParsePriceCents(in); err == nil {
			t.Fatalf("ParsePriceCents(%q): expected error", in)
		}
	}
}

func TestFormatCents(t *testing.T) {
	t.Parallel()

	cases := map[int64]string{0: "0.00", 5: "0.05", 250: "2.50", 1000: "10.00", -150: "-1.50"}
	for in, want := range cases {
		if got := FormatCents(in); got != want {
			t.Fatalf("FormatCents(%d) = %q, want %q", in, got, want)
		}
	}
}
