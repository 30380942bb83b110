// Package simulate generates realistic material requests for exercising a
// bridge deployment.
package simulate

import (
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/telhawk-systems/logistics-bridge/common/deadline"
	"github.com/telhawk-systems/logistics-bridge/common/events"
)

var (
	units     = []string{"box", "each", "pack", "case", "litre"}
	locations = []string{"Central Stores", "Pharmacy", "Loading Dock A", "Loading Dock B", "Sterile Services"}
	wards     = []string{"Ward 1", "Ward 4", "Theatre 2", "ICU", "Emergency", "Outpatients", "Radiology"}
)

// Generator produces ReadyForCollection events. A fixed seed gives a
// repeatable sequence.
type Generator struct {
	faker *gofakeit.Faker
	now   func() time.Time
}

// NewGenerator creates a Generator. Seed 0 is random.
func NewGenerator(seed int64) *Generator {
	return &Generator{faker: gofakeit.New(seed), now: time.Now}
}

// Ready returns one request released for collection.
func (g *Generator) Ready() events.ReadyForCollection {
	f := g.faker
	n := f.Number(1, 4)
	items := make([]events.Item, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, events.Item{
			Code:        strings.ToUpper(f.Lexify("???")) + "-" + f.Numerify("####"),
			Description: f.Adjective() + " " + f.Noun(),
			Quantity:    float64(f.Number(1, 50)),
			Unit:        f.RandomString(units),
		})
	}

	ready := g.now().UTC()
	p := events.ReadyForCollection{
		RequestID:        f.UUID(),
		RequestNumber:    f.Numerify("MR-######"),
		Items:            items,
		PickupLocation:   f.RandomString(locations),
		DeliveryLocation: f.RandomString(wards),
		Priority:         g.priority(),
		RequestedBy:      f.Username(),
		ReadyAt:          ready,
	}
	if f.Bool() {
		by := ready.Add(time.Duration(f.Number(2, 48)) * time.Hour)
		p.RequiredBy = &by
	}
	if f.Number(1, 4) == 1 {
		p.Notes = f.Sentence(6)
	}
	return p
}

// priority skews towards routine work.
func (g *Generator) priority() deadline.Priority {
	switch r := g.faker.Number(1, 20); {
	case r == 1:
		return deadline.PriorityCritical
	case r <= 5:
		return deadline.PriorityHigh
	case r <= 14:
		return deadline.PriorityMedium
	default:
		return deadline.PriorityLow
	}
}
