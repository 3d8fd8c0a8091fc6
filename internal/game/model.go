package game

// NoneID marks an unresolved or explicitly absent object reference.
// Dangling ids in the save degrade to NoneID instead of failing the
// snapshot.
const NoneID int64 = -1

// Snapshot is one normalized point-in-time game state. Immutable once
// built; the diff engine and aggregator only ever read it.
type Snapshot struct {
	PlaythroughID string `json:"playthrough_id"`
	Name          string `json:"name"`
	Date          Date   `json:"date"`

	PlayerCountryID int64 `json:"player_country_id"`

	Countries map[int64]*Country `json:"countries"`
	Species   map[int64]*Species `json:"species"`
	Pops      map[int64]*Pop     `json:"pops"`
	Planets   map[int64]*Planet  `json:"planets"`
	Systems   map[int64]*System  `json:"systems"`
	Fleets    map[int64]*Fleet   `json:"fleets"`
	Leaders   map[int64]*Leader  `json:"leaders"`
	Factions  map[int64]*Faction `json:"factions"`
	Wars      map[int64]*War     `json:"wars"`

	// Top-level sections present in the save but outside the catalog.
	Unparsed []string `json:"unparsed,omitempty"`
}

type Country struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	IsPlayer bool   `json:"is_player"`

	CapitalID     int64   `json:"capital_id"`
	MilitaryPower float64 `json:"military_power"`
	TechCount     int     `json:"tech_count"`

	Budget Budget `json:"budget"`

	// Relations keyed by the other country's id.
	Relations map[int64]Diplomacy `json:"relations,omitempty"`
}

// Budget is the current-month ledger, resource keyed, summed over the
// game's budget categories.
type Budget struct {
	Income  map[string]float64 `json:"income,omitempty"`
	Expense map[string]float64 `json:"expense,omitempty"`
}

// Net returns income minus expense for one resource.
func (b Budget) Net(resource string) float64 {
	return b.Income[resource] - b.Expense[resource]
}

// Diplomacy are the tracked pairwise relation flags. Any flip of one of
// these between snapshots is a discrete event.
type Diplomacy struct {
	Rivalry           bool `json:"rivalry,omitempty"`
	DefensivePact     bool `json:"defensive_pact,omitempty"`
	NonAggressionPact bool `json:"non_aggression_pact,omitempty"`
	MigrationTreaty   bool `json:"migration_treaty,omitempty"`
	ResearchAgreement bool `json:"research_agreement,omitempty"`
	SensorLink        bool `json:"sensor_link,omitempty"`
	ClosedBorders     bool `json:"closed_borders,omitempty"`
	Federation        bool `json:"federation,omitempty"`
}

type Species struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Class string `json:"class,omitempty"`
}

type Pop struct {
	ID        int64  `json:"id"`
	SpeciesID int64  `json:"species_id"`
	PlanetID  int64  `json:"planet_id"`
	FactionID int64  `json:"faction_id"`
	Job       string `json:"job,omitempty"`
	Stratum   string `json:"stratum,omitempty"`
}

type Planet struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	OwnerID     int64  `json:"owner_id"`
	SystemID    int64  `json:"system_id"`
	IsColonized bool   `json:"is_colonized"`
}

type System struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	OwnerID int64  `json:"owner_id"`
}

type Fleet struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	OwnerID       int64   `json:"owner_id"`
	MilitaryPower float64 `json:"military_power"`
	ShipCount     int     `json:"ship_count"`
	IsStation     bool    `json:"is_station,omitempty"`
}

type Leader struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	CountryID int64  `json:"country_id"`
	Class     string `json:"class,omitempty"`
}

type Faction struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	CountryID int64  `json:"country_id"`
}

type War struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	StartDate Date   `json:"start_date"`
	Ended     bool   `json:"ended,omitempty"`

	Attackers []int64 `json:"attackers,omitempty"`
	Defenders []int64 `json:"defenders,omitempty"`

	AttackerExhaustion float64 `json:"attacker_exhaustion,omitempty"`
	DefenderExhaustion float64 `json:"defender_exhaustion,omitempty"`
}

// PopCountBySpecies counts living pops per species id.
func (s *Snapshot) PopCountBySpecies() map[int64]int {
	out := make(map[int64]int)
	for _, p := range s.Pops {
		if p.SpeciesID != NoneID {
			out[p.SpeciesID]++
		}
	}
	return out
}
