package derive

import (
	"reflect"
	"sort"
	"testing"

	"github.com/ts826848/stellaris-dashboard/internal/game"
)

func seriesMap(points []Point) map[string]float64 {
	out := make(map[string]float64, len(points))
	for _, p := range points {
		out[p.Series] = p.Value
	}
	return out
}

func TestAggregate_CountrySeries(t *testing.T) {
	s := snapAt(100)
	s.Countries[0] = &game.Country{
		ID:        0,
		TechCount: 12,
		Budget: game.Budget{
			Income:  map[string]float64{"energy": 25.5, "physics_research": 10},
			Expense: map[string]float64{"energy": 8},
		},
	}
	s.Systems[50] = &game.System{ID: 50, OwnerID: 0}
	s.Systems[51] = &game.System{ID: 51, OwnerID: game.NoneID}
	s.Planets[3] = &game.Planet{ID: 3, OwnerID: 0, SystemID: 50, IsColonized: true}
	s.Pops[10] = &game.Pop{ID: 10, PlanetID: 3, SpeciesID: game.NoneID, FactionID: game.NoneID}
	s.Fleets[20] = &game.Fleet{ID: 20, OwnerID: 0, MilitaryPower: 800}
	s.Fleets[21] = &game.Fleet{ID: 21, OwnerID: 0, MilitaryPower: 200, IsStation: true}

	got := seriesMap(Aggregate(s))

	want := map[string]float64{
		"country.0.budget.energy.income":            25.5,
		"country.0.budget.energy.expense":           8,
		"country.0.budget.energy.net":               17.5,
		"country.0.budget.physics_research.income":  10,
		"country.0.budget.physics_research.expense": 0,
		"country.0.budget.physics_research.net":     10,
		"country.0.systems_owned":                   1,
		"country.0.planets_owned":                   1,
		"country.0.pop_count":                       1,
		"country.0.fleet_power":                     1000,
		"country.0.tech_count":                      12,
		"pops.planet.3":                             1,
		"pops.total":                                1,
		"research.physics_research":                 10,
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("%s = %v, want %v (all: %v)", k, got[k], v, got)
		}
	}
	// Resources the save never mentions produce no series at all.
	if _, ok := got["country.0.budget.alloys.net"]; ok {
		t.Fatal("alloys series should be absent, not zero-filled")
	}
}

func TestAggregate_PopDemographics(t *testing.T) {
	s := snapAt(100)
	s.Species[0] = &game.Species{ID: 0, Name: "Human"}
	s.Species[1] = &game.Species{ID: 1, Name: "Blorg"}
	s.Factions[40] = &game.Faction{ID: 40, Name: "Progressives", CountryID: 0}
	s.Pops[1] = &game.Pop{ID: 1, SpeciesID: 0, Job: "farmer", Stratum: "worker", FactionID: 40, PlanetID: game.NoneID}
	s.Pops[2] = &game.Pop{ID: 2, SpeciesID: 0, Job: "researcher", Stratum: "specialist", FactionID: game.NoneID, PlanetID: game.NoneID}
	s.Pops[3] = &game.Pop{ID: 3, SpeciesID: 1, Job: "farmer", Stratum: "worker", FactionID: game.NoneID, PlanetID: game.NoneID}

	got := seriesMap(Aggregate(s))
	checks := map[string]float64{
		"pops.species.Human":        2,
		"pops.species.Blorg":        1,
		"pops.job.farmer":           2,
		"pops.job.researcher":       1,
		"pops.stratum.worker":       2,
		"pops.stratum.specialist":   1,
		"pops.faction.Progressives": 1,
		"pops.total":                3,
	}
	for k, v := range checks {
		if got[k] != v {
			t.Fatalf("%s = %v, want %v", k, got[k], v)
		}
	}
}

// Two snapshots with identical budgets yield the same values at both
// dates; equality of inputs means equality of outputs, no diffing.
func TestAggregate_Deterministic(t *testing.T) {
	build := func(date game.Date) *game.Snapshot {
		s := snapAt(date)
		s.Countries[0] = &game.Country{ID: 0, Budget: game.Budget{
			Income:  map[string]float64{"energy": 20, "minerals": 30},
			Expense: map[string]float64{"energy": 5},
		}}
		return s
	}
	a := seriesMap(Aggregate(build(100)))
	b := seriesMap(Aggregate(build(130)))
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same inputs, different outputs: %v vs %v", a, b)
	}

	pts := Aggregate(build(100))
	if !sort.SliceIsSorted(pts, func(i, j int) bool { return pts[i].Series < pts[j].Series }) {
		t.Fatal("points must come back sorted by series name")
	}
}

func TestAggregate_EmptySnapshot(t *testing.T) {
	s := snapAt(0)
	pts := Aggregate(s)
	got := seriesMap(pts)
	if got["pops.total"] != 0 {
		t.Fatalf("pops.total = %v", got["pops.total"])
	}
}
