package derive

import (
	"fmt"
	"sort"

	"github.com/ts826848/stellaris-dashboard/internal/game"
)

// Point is one aggregated measurement for a named series at the snapshot
// date. Series names are stable public identifiers; the front end queries
// by them.
type Point struct {
	Series string    `json:"series"`
	Date   game.Date `json:"date"`
	Value  float64   `json:"value"`
}

// budgetResources is the fixed resource catalog. Resources missing from a
// save (schema drift, old versions) simply produce no point for that date.
var budgetResources = []string{
	"energy",
	"minerals",
	"food",
	"alloys",
	"consumer_goods",
	"unity",
	"influence",
	"physics_research",
	"society_research",
	"engineering_research",
}

var researchAreas = []string{"physics_research", "society_research", "engineering_research"}

// Aggregate computes every series for one snapshot. No previous-snapshot
// dependency: each point stands alone, and recomputing a date overwrites
// the stored values, so the output must be deterministic — points come
// back sorted by series name.
func Aggregate(s *game.Snapshot) []Point {
	a := &aggregator{date: s.Date}

	a.countries(s)
	a.pops(s)
	a.research(s)

	sort.Slice(a.points, func(i, j int) bool { return a.points[i].Series < a.points[j].Series })
	return a.points
}

type aggregator struct {
	date   game.Date
	points []Point
}

func (a *aggregator) add(series string, v float64) {
	a.points = append(a.points, Point{Series: series, Date: a.date, Value: v})
}

func (a *aggregator) countries(s *game.Snapshot) {
	systemsOwned := make(map[int64]int)
	for _, sys := range s.Systems {
		if sys.OwnerID != game.NoneID {
			systemsOwned[sys.OwnerID]++
		}
	}
	planetsOwned := make(map[int64]int)
	for _, pl := range s.Planets {
		if pl.OwnerID != game.NoneID {
			planetsOwned[pl.OwnerID]++
		}
	}
	popCount := make(map[int64]int)
	for _, p := range s.Pops {
		if p.PlanetID == game.NoneID {
			continue
		}
		if pl, ok := s.Planets[p.PlanetID]; ok && pl.OwnerID != game.NoneID {
			popCount[pl.OwnerID]++
		}
	}
	fleetPower := make(map[int64]float64)
	for _, f := range s.Fleets {
		if f.OwnerID != game.NoneID {
			fleetPower[f.OwnerID] += f.MilitaryPower
		}
	}

	for id, c := range s.Countries {
		prefix := fmt.Sprintf("country.%d.", id)
		for _, res := range budgetResources {
			income, hasIn := c.Budget.Income[res]
			expense, hasOut := c.Budget.Expense[res]
			if !hasIn && !hasOut {
				continue
			}
			a.add(prefix+"budget."+res+".income", income)
			a.add(prefix+"budget."+res+".expense", expense)
			a.add(prefix+"budget."+res+".net", income-expense)
		}
		a.add(prefix+"systems_owned", float64(systemsOwned[id]))
		a.add(prefix+"planets_owned", float64(planetsOwned[id]))
		a.add(prefix+"pop_count", float64(popCount[id]))
		a.add(prefix+"fleet_power", fleetPower[id])
		a.add(prefix+"tech_count", float64(c.TechCount))
	}
}

func (a *aggregator) pops(s *game.Snapshot) {
	bySpecies := make(map[string]int)
	byJob := make(map[string]int)
	byStratum := make(map[string]int)
	byFaction := make(map[string]int)
	byPlanet := make(map[int64]int)

	for _, p := range s.Pops {
		if sp, ok := s.Species[p.SpeciesID]; ok && sp.Name != "" {
			bySpecies[sp.Name]++
		}
		if p.Job != "" {
			byJob[p.Job]++
		}
		if p.Stratum != "" {
			byStratum[p.Stratum]++
		}
		if f, ok := s.Factions[p.FactionID]; ok && f.Name != "" {
			byFaction[f.Name]++
		}
		if p.PlanetID != game.NoneID {
			byPlanet[p.PlanetID]++
		}
	}

	for name, n := range bySpecies {
		a.add("pops.species."+name, float64(n))
	}
	for name, n := range byJob {
		a.add("pops.job."+name, float64(n))
	}
	for name, n := range byStratum {
		a.add("pops.stratum."+name, float64(n))
	}
	for name, n := range byFaction {
		a.add("pops.faction."+name, float64(n))
	}
	for id, n := range byPlanet {
		a.add(fmt.Sprintf("pops.planet.%d", id), float64(n))
	}
	a.add("pops.total", float64(len(s.Pops)))
}

// research tracks the player empire's science output per area.
func (a *aggregator) research(s *game.Snapshot) {
	c, ok := s.Countries[s.PlayerCountryID]
	if !ok {
		return
	}
	for _, area := range researchAreas {
		income, hasIn := c.Budget.Income[area]
		if !hasIn {
			continue
		}
		a.add("research."+area, income)
	}
}
