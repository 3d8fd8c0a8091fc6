package game

import (
	"strings"
	"testing"

	"github.com/ts826848/stellaris-dashboard/internal/saveformat"
)

const sampleGamestate = `
date=2245.03.04
random_seed=424242
galaxy={ name="Andromeda Prime" }
player={ { name="hellsoul" country=0 } }
country={
	0={
		name="United Nations of Earth"
		capital=3
		military_power=1500.5
		tech_status={ technology="tech_lasers_1" technology="tech_shields_1" }
		budget={
			current_month={
				income={
					country_base={ energy=20 minerals=30 }
					planet_jobs={ energy=5.5 food=12 }
				}
				expenses={
					ships={ energy=8 alloys=2 }
				}
			}
		}
		relations_manager={
			relation={ country=1 defensive_pact=yes closed_borders=no }
		}
	}
	1={
		name="Blorg Commonality"
		capital=99
	}
	2=none
}
species_db={
	0={ name="Human" class="HUM" }
	1={ name="Blorg" class="FUN" }
}
pop={
	10={ species=0 job="farmer" category="worker" }
	11={ species=0 job="researcher" category="specialist" }
	12={ species=7 job="soldier" category="worker" }
}
planets={
	planet={
		3={ name="Earth" owner=0 colonize_date=2200.01.01 pop={ 10 11 } }
		4={ name="Mars" }
	}
}
galactic_object={
	50={ name="Sol" planet=3 planet=4 }
	51={ name="Alpha Centauri" }
}
starbase_mgr={
	starbases={
		0={ owner=0 system=50 }
	}
}
fleet={
	20={ name="1st Fleet" owner=0 military_power=800 ships={ 100 101 } }
	21={ name="Starbase" owner=0 station=yes }
}
leaders={
	30={ name={ first_name="Jeff" second_name="Bridges" } country=0 class="admiral" }
}
pop_factions={
	40={ name="Progressives" country=0 members={ 10 } }
}
war={
	60={
		name="War in Heaven"
		start_date="2244.01.01"
		attackers={ { country=0 } }
		defenders={ { country=1 } }
		attacker_war_exhaustion=0.25
	}
}
mystery_section={ something=1 }
`

func normalizeSample(t *testing.T) *Snapshot {
	t.Helper()
	res, err := saveformat.Parse(strings.NewReader(sampleGamestate))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	meta, err := saveformat.Parse(strings.NewReader(`name="United Nations of Earth"` + "\ndate=2245.03.04\n"))
	if err != nil {
		t.Fatalf("parse meta: %v", err)
	}
	snap, err := Normalize(&saveformat.SaveFile{Meta: meta.Root, Gamestate: res.Root}, "fallback_dir")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	return snap
}

func TestNormalize_RoundTrip(t *testing.T) {
	snap := normalizeSample(t)

	if want, _ := ParseDate("2245.03.04"); snap.Date != want {
		t.Fatalf("date = %v", snap.Date)
	}
	if snap.PlayerCountryID != 0 {
		t.Fatalf("player country = %d", snap.PlayerCountryID)
	}

	une := snap.Countries[0]
	if une == nil || une.Name != "United Nations of Earth" || !une.IsPlayer {
		t.Fatalf("country 0 = %+v", une)
	}
	if une.CapitalID != 3 {
		t.Fatalf("capital = %d", une.CapitalID)
	}
	if une.TechCount != 2 {
		t.Fatalf("tech count = %d", une.TechCount)
	}
	if got := une.Budget.Income["energy"]; got != 25.5 {
		t.Fatalf("energy income = %f (categories must sum)", got)
	}
	if got := une.Budget.Net("energy"); got != 17.5 {
		t.Fatalf("energy net = %f", got)
	}
	rel, ok := une.Relations[1]
	if !ok || !rel.DefensivePact || rel.ClosedBorders {
		t.Fatalf("relation to 1 = %+v ok=%v", rel, ok)
	}

	if _, ok := snap.Countries[2]; ok {
		t.Fatal("tombstoned country 2 must not exist")
	}

	// Dangling references degrade to NoneID, never fail.
	if blorg := snap.Countries[1]; blorg.CapitalID != NoneID {
		t.Fatalf("blorg capital = %d, want NoneID for dangling planet 99", blorg.CapitalID)
	}
	if p := snap.Pops[12]; p.SpeciesID != NoneID {
		t.Fatalf("pop 12 species = %d, want NoneID for dangling species 7", p.SpeciesID)
	}

	if p := snap.Pops[10]; p.PlanetID != 3 || p.FactionID != 40 || p.Job != "farmer" || p.Stratum != "worker" {
		t.Fatalf("pop 10 = %+v", p)
	}
	if p := snap.Pops[11]; p.PlanetID != 3 || p.FactionID != NoneID {
		t.Fatalf("pop 11 = %+v", p)
	}

	earth := snap.Planets[3]
	if earth == nil || earth.SystemID != 50 || earth.OwnerID != 0 || !earth.IsColonized {
		t.Fatalf("earth = %+v", earth)
	}
	if mars := snap.Planets[4]; mars.IsColonized || mars.OwnerID != NoneID {
		t.Fatalf("mars = %+v", mars)
	}

	sol := snap.Systems[50]
	if sol == nil || sol.Name != "Sol" || sol.OwnerID != 0 {
		t.Fatalf("sol = %+v", sol)
	}
	if ac := snap.Systems[51]; ac.OwnerID != NoneID {
		t.Fatalf("alpha centauri owner = %d", ac.OwnerID)
	}

	if f := snap.Fleets[20]; f.ShipCount != 2 || f.OwnerID != 0 || f.IsStation {
		t.Fatalf("fleet 20 = %+v", f)
	}
	if f := snap.Fleets[21]; !f.IsStation {
		t.Fatalf("fleet 21 = %+v", f)
	}

	if l := snap.Leaders[30]; l.Name != "Jeff Bridges" || l.CountryID != 0 || l.Class != "admiral" {
		t.Fatalf("leader = %+v", l)
	}

	w := snap.Wars[60]
	if w == nil || len(w.Attackers) != 1 || w.Attackers[0] != 0 || len(w.Defenders) != 1 || w.Defenders[0] != 1 {
		t.Fatalf("war = %+v", w)
	}
	if w.Ended {
		t.Fatal("war must be open")
	}
}

func TestNormalize_UnknownSectionTolerated(t *testing.T) {
	snap := normalizeSample(t)
	found := false
	for _, name := range snap.Unparsed {
		if name == "mystery_section" {
			found = true
		}
	}
	if !found {
		t.Fatalf("unparsed = %v, want mystery_section recorded", snap.Unparsed)
	}
	// The rest of the snapshot is still fully normalized.
	if len(snap.Countries) != 2 || len(snap.Systems) != 2 {
		t.Fatalf("normalization incomplete: %d countries, %d systems", len(snap.Countries), len(snap.Systems))
	}
}

func TestNormalize_Identity(t *testing.T) {
	a := normalizeSample(t)
	b := normalizeSample(t)
	if a.PlaythroughID == "" || a.PlaythroughID != b.PlaythroughID {
		t.Fatalf("identity not stable: %q vs %q", a.PlaythroughID, b.PlaythroughID)
	}
	if a.PlaythroughID == "fallback_dir" {
		t.Fatal("identity should derive from meta, not the fallback")
	}
	if a.Name != "United Nations of Earth" {
		t.Fatalf("name = %q", a.Name)
	}
}

func TestNormalize_FallbackIdentity(t *testing.T) {
	res, err := saveformat.Parse(strings.NewReader("date=2210.01.01\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	snap, err := Normalize(&saveformat.SaveFile{Gamestate: res.Root}, "my_empire_123")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if snap.PlaythroughID != "my_empire_123" {
		t.Fatalf("id = %q", snap.PlaythroughID)
	}
}

func TestNormalize_NoDateFails(t *testing.T) {
	res, err := saveformat.Parse(strings.NewReader("country={ }\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := Normalize(&saveformat.SaveFile{Gamestate: res.Root}, "x"); err == nil {
		t.Fatal("expected error for dateless save")
	}
}
