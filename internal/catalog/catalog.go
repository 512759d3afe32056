// Package catalog serves the read-only lot definitions loaded from
// lots.json.  The file is read once at start; the engine never writes to it.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/iliyamo/raffle-tickets/internal/model"
)

// ErrLotNotFound is returned by GetLot for unknown ids.
var ErrLotNotFound = errors.New("lot not found")

// Catalog is an immutable, concurrency-safe view of the lots.
type Catalog struct {
	lots []model.Lot
	byID map[string]model.Lot
}

// lotFile is the on-disk shape of one lot.  Price is a decimal string
// ("10.00") or a JSON number.
type lotFile struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Image    string          `json:"image"`
	Price    json.RawMessage `json:"price"`
	Capacity *int            `json:"capacity"`
}

// Load reads and validates the catalog file at path.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a JSON array of lots.  Ids must be present and unique and
// capacities non-negative.  Non-positive prices are accepted here; the
// engine rejects them at admission.
func Parse(r io.Reader) (*Catalog, error) {
	var raw []lotFile
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	c := &Catalog{
		lots: make([]model.Lot, 0, len(raw)),
		byID: make(map[string]model.Lot, len(raw)),
	}
	for i, l := range raw {
		id := strings.TrimSpace(l.ID)
		if id == "" {
			return nil, fmt.Errorf("catalog entry %d: missing id", i)
		}
		if _, dup := c.byID[id]; dup {
			return nil, fmt.Errorf("catalog entry %d: duplicate id %q", i, id)
		}
		if l.Capacity != nil && *l.Capacity < 0 {
			return nil, fmt.Errorf("lot %s: negative capacity %d", id, *l.Capacity)
		}
		cents, err := ParsePriceCents(strings.Trim(string(l.Price), `"`))
		if err != nil {
			return nil, fmt.Errorf("lot %s: %w", id, err)
		}
		lot := model.Lot{
			ID:             id,
			Name:           l.Name,
			Image:          l.Image,
			UnitPriceCents: cents,
			Capacity:       l.Capacity,
		}
		c.lots = append(c.lots, lot)
		c.byID[id] = lot
	}
	return c, nil
}

// GetLot returns the lot with the given id.
func (c *Catalog) GetLot(_ context.Context, id string) (model.Lot, error) {
	lot, ok := c.byID[id]
	if !ok {
		return model.Lot{}, ErrLotNotFound
	}
	return lot, nil
}

// List returns all lots in file order.
func (c *Catalog) List(_ context.Context) []model.Lot {
	out := make([]model.Lot, len(c.lots))
	copy(out, c.lots)
	return out
}

// ParsePriceCents converts a decimal amount with at most two fractional
// digits ("10", "2.5", "-1.00") into minor units.
func ParsePriceCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return 0, fmt.Errorf("missing price")
	}
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "-"), "+")
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > 2 {
		return 0, fmt.Errorf("invalid price %q: more than two decimals", s)
	}
	if whole == "" {
		whole = "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units < 0 {
		return 0, fmt.Errorf("invalid price %q", s)
	}
	var cents int64
	if frac != "" {
		frac += strings.Repeat("0", 2-len(frac))
		if cents, err = strconv.ParseInt(frac, 10, 64); err != nil || cents < 0 {
			return 0, fmt.Errorf("invalid price %q", s)
		}
	}
	total := units*100 + cents
	if neg {
		total = -total
	}
	return total, nil
}

// FormatCents renders minor units as a two-decimal string.
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
