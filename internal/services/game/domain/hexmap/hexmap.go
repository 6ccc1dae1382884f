// Package hexmap generates the initial board of a game.
//
// Boards are axial (q, r) grids. Terrain follows two modular patterns whose
// offsets derive from the game's map seed, so one seed always yields the same
// board and different seeds yield different ones.
package hexmap

import (
	"fmt"
	"strconv"
)

// Size limits for either board dimension.
const (
	MinSize = 5
	MaxSize = 50
)

// Terrain kinds.
const (
	TerrainGrass  = "grass"
	TerrainWater  = "water"
	TerrainForest = "forest"
)

// Config describes a board to generate.
type Config struct {
	Width  int
	Height int
	Seed   int64
}

// Validate checks the board dimensions.
func (c Config) Validate() error {
	if c.Width < MinSize || c.Width > MaxSize || c.Height < MinSize || c.Height > MaxSize {
		return fmt.Errorf("map size %dx%d outside [%d, %d]", c.Width, c.Height, MinSize, MaxSize)
	}
	return nil
}

// Hex is one board cell.
type Hex struct {
	Q          int     `json:"q"`
	R          int     `json:"r"`
	Terrain    string  `json:"terrain"`
	Passable   bool    `json:"passable"`
	OccupiedBy *string `json:"occupied_by"`
}

// SpawnPoint is where a player slot starts.
type SpawnPoint struct {
	Q          int `json:"q"`
	R          int `json:"r"`
	PlayerSlot int `json:"player_slot"`
}

// Map is the board snapshot stored with a game.
type Map struct {
	Width       int          `json:"width"`
	Height      int          `json:"height"`
	Seed        int64        `json:"seed"`
	Hexes       []Hex        `json:"hexes"`
	SpawnPoints []SpawnPoint `json:"spawn_points"`
}

// Generate builds the board described by cfg.
func Generate(cfg Config) (Map, error) {
	if err := cfg.Validate(); err != nil {
		return Map{}, err
	}
	waterOffset, forestOffset := offsets(cfg.Seed)

	hexes := make([]Hex, 0, cfg.Width*cfg.Height)
	for q := 0; q < cfg.Width; q++ {
		for r := 0; r < cfg.Height; r++ {
			h := Hex{Q: q, R: r, Terrain: TerrainGrass, Passable: true}
			switch {
			case (q+r+waterOffset)%7 == 0:
				h.Terrain = TerrainWater
				h.Passable = false
			case (q*r+forestOffset)%5 == 0:
				h.Terrain = TerrainForest
			}
			hexes = append(hexes, h)
		}
	}

	// Corners are kept walkable so every slot can leave its spawn.
	spawns := []SpawnPoint{
		{Q: 0, R: 0, PlayerSlot: 1},
		{Q: cfg.Width - 1, R: 0, PlayerSlot: 2},
		{Q: 0, R: cfg.Height - 1, PlayerSlot: 3},
		{Q: cfg.Width - 1, R: cfg.Height - 1, PlayerSlot: 4},
	}
	for _, spawn := range spawns {
		h := &hexes[spawn.Q*cfg.Height+spawn.R]
		h.Terrain = TerrainGrass
		h.Passable = true
	}

	return Map{
		Width:       cfg.Width,
		Height:      cfg.Height,
		Seed:        cfg.Seed,
		Hexes:       hexes,
		SpawnPoints: spawns,
	}, nil
}

func offsets(seed int64) (water, forest int) {
	u := uint64(seed)
	// splitmix64 finalizer spreads nearby seeds apart.
	u ^= u >> 30
	u *= 0xbf58476d1ce4e5b9
	u ^= u >> 27
	u *= 0x94d049bb133111eb
	u ^= u >> 31
	return int(u % 7), int((u >> 8) % 5)
}

// Unit is a starting unit.
type Unit struct {
	UnitID        string   `json:"unit_id"`
	PlayerID      string   `json:"player_id"`
	Type          string   `json:"type"`
	Health        int      `json:"health"`
	Attack        int      `json:"attack"`
	Defense       int      `json:"defense"`
	MovementRange int      `json:"movement_range"`
	Position      Position `json:"position"`
}

// Position is an axial coordinate.
type Position struct {
	Q int `json:"q"`
	R int `json:"r"`
}

// UnitsPerPlayer is the size of every starting squad.
const UnitsPerPlayer = 3

// InitialUnits returns the starting squad of playerID at spawn.
func InitialUnits(playerID string, spawn SpawnPoint) []Unit {
	units := make([]Unit, 0, UnitsPerPlayer)
	for i := 0; i < UnitsPerPlayer; i++ {
		units = append(units, Unit{
			UnitID:        playerID + "_unit_" + strconv.Itoa(i),
			PlayerID:      playerID,
			Type:          "soldier",
			Health:        100,
			Attack:        10,
			Defense:       5,
			MovementRange: 3,
			Position:      Position{Q: spawn.Q, R: spawn.R},
		})
	}
	return units
}

// SpawnFor returns the spawn point of the zero-based roster slot; slots
// beyond the corners wrap around.
func (m Map) SpawnFor(slot int) SpawnPoint {
	if slot < 0 {
		slot = 0
	}
	return m.SpawnPoints[slot%len(m.SpawnPoints)]
}
