// Package derive computes the event ledger, system-ownership updates and
// numeric series from normalized snapshots. Everything here is a pure
// function of (previous snapshot or nil, current snapshot): re-running a
// diff with the same inputs yields byte-identical output, which is what
// makes re-ingestion idempotent one layer up.
package derive

import (
	"sort"

	"github.com/ts826848/stellaris-dashboard/internal/game"
)

type Category string

const (
	CatPlaythroughStarted Category = "playthrough_started"
	CatOwnershipGained    Category = "system_ownership_gained"
	CatOwnershipChanged   Category = "system_ownership_changed"
	CatCountryDestroyed   Category = "country_destroyed"
	CatSpeciesExtinct     Category = "species_extinct"
	CatLeaderHired        Category = "leader_hired"
	CatLeaderDied         Category = "leader_died"
	CatFleetDestroyed     Category = "fleet_destroyed"
	CatPlanetColonized    Category = "planet_colonized"
	CatDiplomacyChanged   Category = "diplomacy_changed"
	CatWarStarted         Category = "war_started"
	CatWarEnded           Category = "war_ended"
	CatCapitalMoved       Category = "capital_moved"
)

// categoryRank fixes the tie-break order for events at the same date, so
// ledger output is reproducible across runs.
var categoryRank = map[Category]int{
	CatPlaythroughStarted: 0,
	CatWarStarted:         1,
	CatWarEnded:           2,
	CatOwnershipGained:    3,
	CatOwnershipChanged:   4,
	CatCountryDestroyed:   5,
	CatSpeciesExtinct:     6,
	CatPlanetColonized:    7,
	CatCapitalMoved:       8,
	CatLeaderHired:        9,
	CatLeaderDied:         10,
	CatFleetDestroyed:     11,
	CatDiplomacyChanged:   12,
}

func KnownCategory(c Category) bool {
	_, ok := categoryRank[c]
	return ok
}

// Event is one discrete transition detected between two consecutive
// snapshots.
type Event struct {
	Category Category  `json:"category"`
	Date     game.Date `json:"date"`

	// EntityID is the primary subject (system, leader, fleet, species,
	// war... depending on category); CountryID / TargetID give the
	// countries involved. game.NoneID where not applicable.
	EntityID  int64 `json:"entity_id"`
	CountryID int64 `json:"country_id"`
	TargetID  int64 `json:"target_id"`

	Detail map[string]any `json:"detail,omitempty"`
}

// OwnershipChange asks the store to close the open interval for a system
// and open a new one for NewOwner (or none when NewOwner is NoneID).
type OwnershipChange struct {
	SystemID int64 `json:"system_id"`
	NewOwner int64 `json:"new_owner"`
}

type DiffResult struct {
	Events    []Event
	Ownership []OwnershipChange
}

// Diff compares the previous snapshot of a playthrough with the new one.
// A nil prev means the playthrough was just discovered: only the start
// event and the initial ownership openings are emitted, never change
// events.
func Diff(prev, cur *game.Snapshot) DiffResult {
	d := &differ{cur: cur}
	if prev == nil {
		d.initial()
	} else {
		d.systems(prev)
		d.countries(prev)
		d.species(prev)
		d.leaders(prev)
		d.fleets(prev)
		d.planets(prev)
		d.diplomacy(prev)
		d.wars(prev)
	}
	d.sortEvents()
	return DiffResult{Events: d.events, Ownership: d.ownership}
}

type differ struct {
	cur       *game.Snapshot
	events    []Event
	ownership []OwnershipChange
}

func (d *differ) emit(e Event) {
	e.Date = d.cur.Date
	d.events = append(d.events, e)
}

func (d *differ) initial() {
	d.emit(Event{
		Category:  CatPlaythroughStarted,
		EntityID:  game.NoneID,
		CountryID: d.cur.PlayerCountryID,
		TargetID:  game.NoneID,
		Detail:    map[string]any{"name": d.cur.Name},
	})
	for _, sys := range d.cur.Systems {
		if sys.OwnerID == game.NoneID {
			continue
		}
		d.emit(Event{
			Category:  CatOwnershipGained,
			EntityID:  sys.ID,
			CountryID: sys.OwnerID,
			TargetID:  game.NoneID,
			Detail:    map[string]any{"system": sys.Name},
		})
		d.ownership = append(d.ownership, OwnershipChange{SystemID: sys.ID, NewOwner: sys.OwnerID})
	}
	d.sortOwnership()
}

func (d *differ) systems(prev *game.Snapshot) {
	for id, cur := range d.cur.Systems {
		var prevOwner int64 = game.NoneID
		if p, ok := prev.Systems[id]; ok {
			prevOwner = p.OwnerID
		}
		if cur.OwnerID == prevOwner {
			continue
		}
		cat := CatOwnershipChanged
		if prevOwner == game.NoneID {
			cat = CatOwnershipGained
		}
		d.emit(Event{
			Category:  cat,
			EntityID:  id,
			CountryID: prevOwner,
			TargetID:  cur.OwnerID,
			Detail:    map[string]any{"system": cur.Name},
		})
		d.ownership = append(d.ownership, OwnershipChange{SystemID: id, NewOwner: cur.OwnerID})
	}
	// A system gone from the save entirely loses its owner.
	for id, p := range prev.Systems {
		if _, ok := d.cur.Systems[id]; ok || p.OwnerID == game.NoneID {
			continue
		}
		d.emit(Event{
			Category:  CatOwnershipChanged,
			EntityID:  id,
			CountryID: p.OwnerID,
			TargetID:  game.NoneID,
			Detail:    map[string]any{"system": p.Name},
		})
		d.ownership = append(d.ownership, OwnershipChange{SystemID: id, NewOwner: game.NoneID})
	}
	d.sortOwnership()
}

func (d *differ) countries(prev *game.Snapshot) {
	for id, p := range prev.Countries {
		if _, ok := d.cur.Countries[id]; !ok {
			d.emit(Event{
				Category:  CatCountryDestroyed,
				EntityID:  id,
				CountryID: id,
				TargetID:  game.NoneID,
				Detail:    map[string]any{"name": p.Name},
			})
		}
	}
	for id, cur := range d.cur.Countries {
		p, ok := prev.Countries[id]
		if !ok {
			continue
		}
		if cur.CapitalID != p.CapitalID && cur.CapitalID != game.NoneID {
			d.emit(Event{
				Category:  CatCapitalMoved,
				EntityID:  cur.CapitalID,
				CountryID: id,
				TargetID:  game.NoneID,
				Detail:    map[string]any{"from": p.CapitalID, "to": cur.CapitalID},
			})
		}
	}
}

func (d *differ) species(prev *game.Snapshot) {
	prevCounts := prev.PopCountBySpecies()
	curCounts := d.cur.PopCountBySpecies()
	for id, n := range prevCounts {
		if n == 0 || curCounts[id] > 0 {
			continue
		}
		name := ""
		if sp, ok := prev.Species[id]; ok {
			name = sp.Name
		}
		d.emit(Event{
			Category:  CatSpeciesExtinct,
			EntityID:  id,
			CountryID: game.NoneID,
			TargetID:  game.NoneID,
			Detail:    map[string]any{"name": name, "last_count": n},
		})
	}
}

func (d *differ) leaders(prev *game.Snapshot) {
	for id, p := range prev.Leaders {
		if _, ok := d.cur.Leaders[id]; !ok {
			d.emit(Event{
				Category:  CatLeaderDied,
				EntityID:  id,
				CountryID: p.CountryID,
				TargetID:  game.NoneID,
				Detail:    map[string]any{"name": p.Name, "class": p.Class},
			})
		}
	}
	for id, cur := range d.cur.Leaders {
		if _, ok := prev.Leaders[id]; !ok {
			d.emit(Event{
				Category:  CatLeaderHired,
				EntityID:  id,
				CountryID: cur.CountryID,
				TargetID:  game.NoneID,
				Detail:    map[string]any{"name": cur.Name, "class": cur.Class},
			})
		}
	}
}

func (d *differ) fleets(prev *game.Snapshot) {
	for id, p := range prev.Fleets {
		if p.IsStation {
			continue
		}
		if _, ok := d.cur.Fleets[id]; !ok {
			d.emit(Event{
				Category:  CatFleetDestroyed,
				EntityID:  id,
				CountryID: p.OwnerID,
				TargetID:  game.NoneID,
				Detail:    map[string]any{"name": p.Name, "military_power": p.MilitaryPower},
			})
		}
	}
}

func (d *differ) planets(prev *game.Snapshot) {
	for id, cur := range d.cur.Planets {
		if !cur.IsColonized {
			continue
		}
		if p, ok := prev.Planets[id]; ok && p.IsColonized {
			continue
		}
		d.emit(Event{
			Category:  CatPlanetColonized,
			EntityID:  id,
			CountryID: cur.OwnerID,
			TargetID:  game.NoneID,
			Detail:    map[string]any{"name": cur.Name},
		})
	}
}

// diplomacyFlags drives the per-flag comparison; any flip is one event.
var diplomacyFlags = []struct {
	name string
	get  func(game.Diplomacy) bool
}{
	{"rivalry", func(d game.Diplomacy) bool { return d.Rivalry }},
	{"defensive_pact", func(d game.Diplomacy) bool { return d.DefensivePact }},
	{"non_aggression_pact", func(d game.Diplomacy) bool { return d.NonAggressionPact }},
	{"migration_treaty", func(d game.Diplomacy) bool { return d.MigrationTreaty }},
	{"research_agreement", func(d game.Diplomacy) bool { return d.ResearchAgreement }},
	{"sensor_link", func(d game.Diplomacy) bool { return d.SensorLink }},
	{"closed_borders", func(d game.Diplomacy) bool { return d.ClosedBorders }},
	{"federation", func(d game.Diplomacy) bool { return d.Federation }},
}

func (d *differ) diplomacy(prev *game.Snapshot) {
	for id, cur := range d.cur.Countries {
		p, ok := prev.Countries[id]
		if !ok {
			continue
		}
		for other, curRel := range cur.Relations {
			prevRel := p.Relations[other] // zero value when new
			for _, f := range diplomacyFlags {
				was, is := f.get(prevRel), f.get(curRel)
				if was == is {
					continue
				}
				d.emit(Event{
					Category:  CatDiplomacyChanged,
					EntityID:  id,
					CountryID: id,
					TargetID:  other,
					Detail:    map[string]any{"relation": f.name, "established": is},
				})
			}
		}
	}
}

func (d *differ) wars(prev *game.Snapshot) {
	for id, cur := range d.cur.Wars {
		p, ok := prev.Wars[id]
		if !ok {
			d.emit(Event{
				Category:  CatWarStarted,
				EntityID:  id,
				CountryID: first(cur.Attackers),
				TargetID:  first(cur.Defenders),
				Detail:    map[string]any{"name": cur.Name},
			})
			continue
		}
		if cur.Ended && !p.Ended {
			d.emit(Event{
				Category:  CatWarEnded,
				EntityID:  id,
				CountryID: first(cur.Attackers),
				TargetID:  first(cur.Defenders),
				Detail:    map[string]any{"name": cur.Name},
			})
		}
	}
	for id, p := range prev.Wars {
		if _, ok := d.cur.Wars[id]; !ok && !p.Ended {
			d.emit(Event{
				Category:  CatWarEnded,
				EntityID:  id,
				CountryID: first(p.Attackers),
				TargetID:  first(p.Defenders),
				Detail:    map[string]any{"name": p.Name},
			})
		}
	}
}

func first(ids []int64) int64 {
	if len(ids) == 0 {
		return game.NoneID
	}
	return ids[0]
}

func (d *differ) sortEvents() {
	sort.SliceStable(d.events, func(i, j int) bool {
		a, b := d.events[i], d.events[j]
		if ra, rb := categoryRank[a.Category], categoryRank[b.Category]; ra != rb {
			return ra < rb
		}
		if a.EntityID != b.EntityID {
			return a.EntityID < b.EntityID
		}
		if a.CountryID != b.CountryID {
			return a.CountryID < b.CountryID
		}
		return a.TargetID < b.TargetID
	})
}

func (d *differ) sortOwnership() {
	sort.Slice(d.ownership, func(i, j int) bool {
		return d.ownership[i].SystemID < d.ownership[j].SystemID
	})
}
