package game

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"

	"github.com/ts826848/stellaris-dashboard/internal/saveformat"
)

// CatalogVersion identifies the section catalog below. Re-normalizing an
// archived save with a newer catalog is deterministic: same tree + same
// catalog version means the same snapshot.
const CatalogVersion = 1

// Normalize projects a parsed save file into the typed domain model.
// Two passes: pass one indexes every object by id per section, pass two
// resolves cross-references, because references may point forward or at
// objects that no longer exist. Dangling references become NoneID.
//
// fallbackID seeds the playthrough identity when the save carries no meta
// member (usually the save directory name).
func Normalize(sf *saveformat.SaveFile, fallbackID string) (*Snapshot, error) {
	gs := sf.Gamestate
	if gs == nil {
		return nil, fmt.Errorf("normalize: no gamestate")
	}

	snap := &Snapshot{
		PlayerCountryID: NoneID,
		Countries:       make(map[int64]*Country),
		Species:         make(map[int64]*Species),
		Pops:            make(map[int64]*Pop),
		Planets:         make(map[int64]*Planet),
		Systems:         make(map[int64]*System),
		Fleets:          make(map[int64]*Fleet),
		Leaders:         make(map[int64]*Leader),
		Factions:        make(map[int64]*Faction),
		Wars:            make(map[int64]*War),
	}

	date, ok := normalizeDate(gs, sf.Meta)
	if !ok {
		return nil, fmt.Errorf("normalize: save has no date")
	}
	snap.Date = date

	n := &normalizer{snap: snap}

	// Pass 1: collect per-section objects into the id-indexed arena.
	// Object-shaped sections outside the catalog are recorded, not
	// rejected: new game versions add sections and the snapshot must
	// still commit.
	unparsed := map[string]bool{}
	for _, e := range gs.Entries {
		if h, ok := sectionCatalog[e.Key]; ok {
			h(n, e.Value)
			continue
		}
		if auxSections[e.Key] {
			continue
		}
		if e.Key != "" && (e.Value.Kind == saveformat.KindObject || e.Value.Kind == saveformat.KindList) {
			unparsed[e.Key] = true
		}
	}
	for k := range unparsed {
		snap.Unparsed = append(snap.Unparsed, k)
	}
	sort.Strings(snap.Unparsed)

	n.normalizePlayer(gs)

	// Pass 2: resolve references now that every arena is populated.
	n.resolve()

	snap.PlaythroughID, snap.Name = identity(sf, gs, fallbackID)
	return snap, nil
}

type normalizer struct {
	snap *Snapshot

	// systemPlanets and starbaseOwners carry raw pass-1 references that
	// pass 2 folds into the model.
	systemPlanets  map[int64][]int64 // system id -> planet ids
	planetPops     map[int64][]int64 // planet id -> pop ids
	starbaseOwners map[int64]int64   // system id -> owner country id
	factionMembers map[int64][]int64 // faction id -> pop ids
}

// sectionCatalog enumerates the top-level sections the normalizer
// understands, including legacy spellings from older save versions.
var sectionCatalog = map[string]func(*normalizer, saveformat.Value){
	"country":         (*normalizer).normalizeCountries,
	"species_db":      (*normalizer).normalizeSpecies,
	"species":         (*normalizer).normalizeSpecies,
	"pop":             (*normalizer).normalizePops,
	"planets":         (*normalizer).normalizePlanets,
	"planet":          (*normalizer).normalizePlanets,
	"galactic_object": (*normalizer).normalizeSystems,
	"starbase_mgr":    (*normalizer).normalizeStarbases,
	"starbases":       (*normalizer).normalizeStarbases,
	"fleet":           (*normalizer).normalizeFleets,
	"leaders":         (*normalizer).normalizeLeaders,
	"pop_factions":    (*normalizer).normalizeFactions,
	"war":             (*normalizer).normalizeWars,
}

// auxSections are read by name during normalization (player country,
// galaxy identity) and are not unknown even though no handler owns them.
var auxSections = map[string]bool{"player": true, "galaxy": true}

// eachByID iterates a section shaped like `0={...} 1={...} 2=none`,
// skipping tombstoned ids. Legacy list-shaped sections (`{ {...} {...} }`)
// get ids from their position.
func eachByID(v saveformat.Value, fn func(id int64, obj *saveformat.Object)) {
	switch v.Kind {
	case saveformat.KindObject:
		for _, e := range v.Obj.Entries {
			id, err := strconv.ParseInt(e.Key, 10, 64)
			if err != nil {
				continue
			}
			if e.Value.Kind != saveformat.KindObject {
				continue // "none" tombstone or scalar noise
			}
			fn(id, e.Value.Obj)
		}
	case saveformat.KindList:
		for i, item := range v.List {
			if item.Kind != saveformat.KindObject {
				continue
			}
			fn(int64(i), item.Obj)
		}
	}
}

func (n *normalizer) normalizeCountries(v saveformat.Value) {
	eachByID(v, func(id int64, obj *saveformat.Object) {
		c := &Country{
			ID:        id,
			Name:      readName(obj, "name"),
			CapitalID: refOr(obj, NoneID, "capital"),
			Relations: make(map[int64]Diplomacy),
		}
		c.MilitaryPower, _ = obj.GetFloat("military_power")

		if ts, ok := obj.GetObject("tech_status"); ok {
			c.TechCount = len(ts.GetAll("technology"))
		}
		c.Budget = readBudget(obj)

		if rm, ok := obj.GetObject("relations_manager"); ok {
			for _, rv := range rm.GetAll("relation") {
				if rv.Kind != saveformat.KindObject {
					continue
				}
				other, ok := rv.Obj.GetInt("country")
				if !ok {
					continue
				}
				c.Relations[other] = readDiplomacy(rv.Obj)
			}
		}
		n.snap.Countries[id] = c
	})
}

func readBudget(country *saveformat.Object) Budget {
	b := Budget{Income: map[string]float64{}, Expense: map[string]float64{}}
	budget, ok := country.GetObject("budget")
	if !ok {
		return b
	}
	month, ok := budget.GetObject("current_month")
	if !ok {
		return b
	}
	sum := func(section string, into map[string]float64) {
		obj, ok := month.GetObject(section)
		if !ok {
			return
		}
		// One level of budget categories, each a resource=amount map.
		for _, cat := range obj.Entries {
			if cat.Value.Kind != saveformat.KindObject {
				continue
			}
			for _, res := range cat.Value.Obj.Entries {
				if amt, ok := res.Value.AsFloat(); ok {
					into[res.Key] += amt
				}
			}
		}
	}
	sum("income", b.Income)
	sum("expenses", b.Expense)
	return b
}

func readDiplomacy(rel *saveformat.Object) Diplomacy {
	// Older saves used slightly different key spellings; read all of them.
	flag := func(keys ...string) bool {
		for _, k := range keys {
			if b, ok := rel.GetBool(k); ok && b {
				return true
			}
		}
		return false
	}
	return Diplomacy{
		Rivalry:           flag("is_rival", "rivalry"),
		DefensivePact:     flag("defensive_pact"),
		NonAggressionPact: flag("non_aggression_pact", "non_aggression_pledge"),
		MigrationTreaty:   flag("migration_treaty", "migration_pact"),
		ResearchAgreement: flag("research_agreement"),
		SensorLink:        flag("sensor_link"),
		ClosedBorders:     flag("closed_borders"),
		Federation:        flag("federation", "is_in_federation_with"),
	}
}

func (n *normalizer) normalizeSpecies(v saveformat.Value) {
	eachByID(v, func(id int64, obj *saveformat.Object) {
		sp := &Species{ID: id, Name: readName(obj, "name")}
		sp.Class, _ = obj.GetString("class")
		n.snap.Species[id] = sp
	})
}

func (n *normalizer) normalizePops(v saveformat.Value) {
	eachByID(v, func(id int64, obj *saveformat.Object) {
		p := &Pop{
			ID:        id,
			SpeciesID: refOr(obj, NoneID, "species", "species_index"),
			PlanetID:  NoneID,
			FactionID: NoneID,
		}
		p.Job, _ = obj.GetString("job")
		p.Stratum, _ = obj.GetString("category")
		n.snap.Pops[id] = p
	})
}

func (n *normalizer) normalizePlanets(v saveformat.Value) {
	// Modern saves nest the map one level down: planets={ planet={...} }.
	if v.Kind == saveformat.KindObject {
		if inner, ok := v.Obj.GetObject("planet"); ok {
			v = saveformat.Value{Kind: saveformat.KindObject, Obj: inner}
		}
	}
	if n.planetPops == nil {
		n.planetPops = make(map[int64][]int64)
	}
	eachByID(v, func(id int64, obj *saveformat.Object) {
		pl := &Planet{
			ID:       id,
			Name:     readName(obj, "name"),
			OwnerID:  refOr(obj, NoneID, "owner"),
			SystemID: NoneID,
		}
		if pops, ok := obj.Get("pop"); ok && pops.Kind == saveformat.KindList {
			for _, pv := range pops.List {
				if pid, ok := pv.Ref(); ok && pid >= 0 {
					n.planetPops[id] = append(n.planetPops[id], pid)
				}
			}
		}
		if _, ok := obj.Get("colonize_date"); ok {
			pl.IsColonized = true
		} else if len(n.planetPops[id]) > 0 || pl.OwnerID != NoneID {
			pl.IsColonized = true
		}
		n.snap.Planets[id] = pl
	})
}

func (n *normalizer) normalizeSystems(v saveformat.Value) {
	n.systemPlanets = make(map[int64][]int64)
	eachByID(v, func(id int64, obj *saveformat.Object) {
		sys := &System{ID: id, Name: readName(obj, "name"), OwnerID: NoneID}
		for _, pv := range obj.GetAll("planet") {
			if pid, ok := pv.Ref(); ok && pid >= 0 {
				n.systemPlanets[id] = append(n.systemPlanets[id], pid)
			}
		}
		n.snap.Systems[id] = sys
	})
}

func (n *normalizer) normalizeStarbases(v saveformat.Value) {
	// starbase_mgr={ starbases={ 0={ owner=.. system=.. } } }
	if v.Kind == saveformat.KindObject {
		if inner, ok := v.Obj.GetObject("starbases"); ok {
			v = saveformat.Value{Kind: saveformat.KindObject, Obj: inner}
		}
	}
	if n.starbaseOwners == nil {
		n.starbaseOwners = make(map[int64]int64)
	}
	eachByID(v, func(_ int64, obj *saveformat.Object) {
		sysID, ok1 := obj.GetInt("system")
		owner, ok2 := obj.GetInt("owner")
		if ok1 && ok2 {
			n.starbaseOwners[sysID] = owner
		}
	})
}

func (n *normalizer) normalizeFleets(v saveformat.Value) {
	eachByID(v, func(id int64, obj *saveformat.Object) {
		f := &Fleet{
			ID:      id,
			Name:    readName(obj, "name"),
			OwnerID: refOr(obj, NoneID, "owner"),
		}
		f.MilitaryPower, _ = obj.GetFloat("military_power")
		if ships, ok := obj.Get("ships"); ok && ships.Kind == saveformat.KindList {
			f.ShipCount = len(ships.List)
		}
		f.IsStation, _ = obj.GetBool("station")
		n.snap.Fleets[id] = f
	})
}

func (n *normalizer) normalizeLeaders(v saveformat.Value) {
	eachByID(v, func(id int64, obj *saveformat.Object) {
		l := &Leader{
			ID:        id,
			Name:      readLeaderName(obj),
			CountryID: refOr(obj, NoneID, "country"),
		}
		l.Class, _ = obj.GetString("class")
		n.snap.Leaders[id] = l
	})
}

func (n *normalizer) normalizeFactions(v saveformat.Value) {
	n.factionMembers = make(map[int64][]int64)
	eachByID(v, func(id int64, obj *saveformat.Object) {
		f := &Faction{
			ID:        id,
			Name:      readName(obj, "name"),
			CountryID: refOr(obj, NoneID, "country"),
		}
		if members, ok := obj.Get("members"); ok && members.Kind == saveformat.KindList {
			for _, mv := range members.List {
				if pid, ok := mv.Ref(); ok && pid >= 0 {
					n.factionMembers[id] = append(n.factionMembers[id], pid)
				}
			}
		}
		n.snap.Factions[id] = f
	})
}

func (n *normalizer) normalizeWars(v saveformat.Value) {
	eachByID(v, func(id int64, obj *saveformat.Object) {
		w := &War{ID: id, Name: readName(obj, "name")}
		if s, ok := obj.GetString("start_date"); ok {
			if d, err := ParseDate(s); err == nil {
				w.StartDate = d
			}
		}
		if _, ok := obj.Get("end_date"); ok {
			w.Ended = true
		}
		w.AttackerExhaustion, _ = obj.GetFloat("attacker_war_exhaustion")
		w.DefenderExhaustion, _ = obj.GetFloat("defender_war_exhaustion")
		w.Attackers = readParticipants(obj, "attackers")
		w.Defenders = readParticipants(obj, "defenders")
		n.snap.Wars[id] = w
	})
}

func readParticipants(war *saveformat.Object, key string) []int64 {
	v, ok := war.Get(key)
	if !ok || v.Kind != saveformat.KindList {
		return nil
	}
	var out []int64
	for _, item := range v.List {
		switch item.Kind {
		case saveformat.KindObject:
			if c, ok := item.Obj.GetInt("country"); ok {
				out = append(out, c)
			}
		case saveformat.KindInt:
			out = append(out, item.Int)
		}
	}
	return out
}

func (n *normalizer) normalizePlayer(gs *saveformat.Object) {
	v, ok := gs.Get("player")
	if !ok || v.Kind != saveformat.KindList {
		return
	}
	for _, item := range v.List {
		if item.Kind != saveformat.KindObject {
			continue
		}
		if c, ok := item.Obj.GetInt("country"); ok {
			n.snap.PlayerCountryID = c
			break
		}
	}
}

// resolve is pass two: every stored reference either points at an object
// collected in pass one or collapses to NoneID.
func (n *normalizer) resolve() {
	s := n.snap

	if c, ok := s.Countries[s.PlayerCountryID]; ok {
		c.IsPlayer = true
	} else {
		s.PlayerCountryID = NoneID
	}

	for sysID, owner := range n.starbaseOwners {
		sys, ok := s.Systems[sysID]
		if !ok {
			continue
		}
		if _, ok := s.Countries[owner]; ok {
			sys.OwnerID = owner
		}
	}

	for sysID, planetIDs := range n.systemPlanets {
		for _, pid := range planetIDs {
			if pl, ok := s.Planets[pid]; ok {
				pl.SystemID = sysID
			}
		}
	}

	for plID, popIDs := range n.planetPops {
		for _, pid := range popIDs {
			if p, ok := s.Pops[pid]; ok {
				p.PlanetID = plID
			}
		}
	}

	for fid, popIDs := range n.factionMembers {
		for _, pid := range popIDs {
			if p, ok := s.Pops[pid]; ok {
				p.FactionID = fid
			}
		}
	}

	for _, c := range s.Countries {
		if _, ok := s.Planets[c.CapitalID]; !ok {
			c.CapitalID = NoneID
		}
		for other := range c.Relations {
			if _, ok := s.Countries[other]; !ok {
				delete(c.Relations, other)
			}
		}
	}
	for _, p := range s.Pops {
		if _, ok := s.Species[p.SpeciesID]; !ok {
			p.SpeciesID = NoneID
		}
		if _, ok := s.Planets[p.PlanetID]; !ok {
			p.PlanetID = NoneID
		}
	}
	for _, pl := range s.Planets {
		if _, ok := s.Countries[pl.OwnerID]; !ok {
			pl.OwnerID = NoneID
		}
		if _, ok := s.Systems[pl.SystemID]; !ok {
			pl.SystemID = NoneID
		}
	}
	for _, f := range s.Fleets {
		if _, ok := s.Countries[f.OwnerID]; !ok {
			f.OwnerID = NoneID
		}
	}
	for _, l := range s.Leaders {
		if _, ok := s.Countries[l.CountryID]; !ok {
			l.CountryID = NoneID
		}
	}
	for _, f := range s.Factions {
		if _, ok := s.Countries[f.CountryID]; !ok {
			f.CountryID = NoneID
		}
	}

	// Systems without a starbase inherit the owner of their colonized
	// planets, which keeps pre-starbase saves useful on the ledger.
	for _, sys := range s.Systems {
		if sys.OwnerID != NoneID {
			continue
		}
		for _, pid := range n.systemPlanets[sys.ID] {
			if pl, ok := s.Planets[pid]; ok && pl.OwnerID != NoneID {
				sys.OwnerID = pl.OwnerID
				break
			}
		}
	}
}

func normalizeDate(gs, meta *saveformat.Object) (Date, bool) {
	for _, src := range []*saveformat.Object{gs, meta} {
		if src == nil {
			continue
		}
		if s, ok := src.GetString("date"); ok {
			if d, err := ParseDate(s); err == nil {
				return d, true
			}
		}
	}
	return 0, false
}

// identity derives the stable playthrough id: galaxy name + player empire
// name + galaxy seed when available, hashed; otherwise the caller-supplied
// fallback (the save directory name).
func identity(sf *saveformat.SaveFile, gs *saveformat.Object, fallback string) (id, name string) {
	var galaxy, seed string
	if gal, ok := gs.GetObject("galaxy"); ok {
		galaxy, _ = gal.GetString("name")
	}
	if v, ok := gs.GetInt("random_seed"); ok {
		seed = strconv.FormatInt(v, 10)
	}
	if sf.Meta != nil {
		name = stripNamePrefix(metaName(sf.Meta))
	}
	if galaxy == "" && name == "" {
		return fallback, fallback
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "galaxy=%s|player=%s|seed=%s", galaxy, name, seed)
	if name == "" {
		name = fallback
	}
	return fmt.Sprintf("%016x", h.Sum64()), name
}

func metaName(meta *saveformat.Object) string {
	return readName(meta, "name")
}

// readName reads a display name that may be a plain string or, in newer
// saves, an object carrying a localization key.
func readName(obj *saveformat.Object, key string) string {
	v, ok := obj.Get(key)
	if !ok {
		return ""
	}
	switch v.Kind {
	case saveformat.KindString, saveformat.KindIdent:
		return stripNamePrefix(v.Str)
	case saveformat.KindObject:
		if k, ok := v.Obj.GetString("key"); ok {
			return stripNamePrefix(k)
		}
	}
	return ""
}

func readLeaderName(obj *saveformat.Object) string {
	v, ok := obj.Get("name")
	if !ok {
		return ""
	}
	switch v.Kind {
	case saveformat.KindString, saveformat.KindIdent:
		return v.Str
	case saveformat.KindObject:
		first, _ := v.Obj.GetString("first_name")
		second, _ := v.Obj.GetString("second_name")
		full := strings.TrimSpace(first + " " + second)
		if full != "" {
			return full
		}
		if k, ok := v.Obj.GetString("key"); ok {
			return k
		}
	}
	return ""
}

func stripNamePrefix(s string) string {
	return strings.TrimPrefix(s, "NAME_")
}

// refOr reads the first present key as a reference, else def.
func refOr(obj *saveformat.Object, def int64, keys ...string) int64 {
	for _, k := range keys {
		if v, ok := obj.Get(k); ok {
			if id, ok := v.Ref(); ok {
				return id
			}
			return def // explicit none or junk
		}
	}
	return def
}
