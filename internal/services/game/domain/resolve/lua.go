package resolve

import (
	"context"
	"fmt"
	"os"
	"slices"

	lua "github.com/Shopify/go-lua"

	"github.com/louisbranch/robotbattle/internal/services/game/domain/turn"
)

const luaEntryPoint = "is_won"

// LuaRule evaluates a script that defines
//
//	function is_won(game, result) ... end
//
// game carries game_id, turn, capacity, map_seed and roster; result carries
// the updates and events of the turn just resolved. Each evaluation runs in a
// fresh interpreter with only the base, string, table and math libraries.
type LuaRule struct {
	name   string
	source string
}

// LoadLuaRule reads and compiles the script at path.
func LoadLuaRule(path string) (*LuaRule, error) {
	if path == "" {
		return nil, fmt.Errorf("lua win rule requires a script path")
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read win script: %w", err)
	}
	return NewLuaRule(path, string(source))
}

// NewLuaRule compiles source and checks it defines is_won.
func NewLuaRule(name, source string) (*LuaRule, error) {
	rule := &LuaRule{name: name, source: source}
	state, err := rule.load()
	if err != nil {
		return nil, err
	}
	state.SetTop(0)
	return rule, nil
}

func (r *LuaRule) load() (*lua.State, error) {
	state := lua.NewState()
	for _, lib := range []struct {
		name string
		open lua.Function
	}{
		{"_G", lua.BaseOpen},
		{"string", lua.StringOpen},
		{"table", lua.TableOpen},
		{"math", lua.MathOpen},
	} {
		lua.Require(state, lib.name, lib.open, true)
		state.Pop(1)
	}

	if err := lua.LoadString(state, r.source); err != nil {
		return nil, fmt.Errorf("compile %s: %w", r.name, err)
	}
	if err := state.ProtectedCall(0, 0, 0); err != nil {
		return nil, fmt.Errorf("run %s: %w", r.name, err)
	}
	state.Global(luaEntryPoint)
	if !state.IsFunction(-1) {
		return nil, fmt.Errorf("%s does not define %s(game, result)", r.name, luaEntryPoint)
	}
	state.Pop(1)
	return state, nil
}

// Evaluate implements WinCondition.
func (r *LuaRule) Evaluate(ctx context.Context, game GameContext, result turn.Result) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	state, err := r.load()
	if err != nil {
		return false, err
	}

	state.Global(luaEntryPoint)
	pushGame(state, game)
	pushResult(state, result)
	if err := state.ProtectedCall(2, 1, 0); err != nil {
		return false, fmt.Errorf("%s in %s: %w", luaEntryPoint, r.name, err)
	}
	won := state.ToBoolean(-1)
	state.Pop(1)
	return won, nil
}

func pushGame(state *lua.State, game GameContext) {
	state.NewTable()
	state.PushString(game.GameID)
	state.SetField(-2, "game_id")
	state.PushInteger(game.Turn)
	state.SetField(-2, "turn")
	state.PushInteger(game.Capacity)
	state.SetField(-2, "capacity")
	state.PushNumber(float64(game.MapSeed))
	state.SetField(-2, "map_seed")

	state.NewTable()
	for i, playerID := range game.Roster {
		state.PushString(playerID)
		state.RawSetInt(-2, i+1)
	}
	state.SetField(-2, "roster")
}

func pushResult(state *lua.State, result turn.Result) {
	state.NewTable()
	pushRecords(state, result.Updates)
	state.SetField(-2, "updates")
	pushRecords(state, result.Events)
	state.SetField(-2, "events")
}

func pushRecords(state *lua.State, records []turn.Record) {
	state.NewTable()
	for i, record := range records {
		state.NewTable()
		keys := make([]string, 0, len(record))
		for key := range record {
			keys = append(keys, key)
		}
		slices.Sort(keys)
		for _, key := range keys {
			pushValue(state, record[key])
			state.SetField(-2, key)
		}
		state.RawSetInt(-2, i+1)
	}
}

func pushValue(state *lua.State, value any) {
	switch v := value.(type) {
	case nil:
		state.PushNil()
	case string:
		state.PushString(v)
	case bool:
		state.PushBoolean(v)
	case int:
		state.PushInteger(v)
	case float64:
		state.PushNumber(v)
	case []any:
		state.NewTable()
		for i, item := range v {
			pushValue(state, item)
			state.RawSetInt(-2, i+1)
		}
	case map[string]any:
		state.NewTable()
		for key, item := range v {
			pushValue(state, item)
			state.SetField(-2, key)
		}
	default:
		state.PushString(fmt.Sprint(v))
	}
}
