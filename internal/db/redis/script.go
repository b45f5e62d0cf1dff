package redis

import (
	"context"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/matchd/internal/db"
)

// RunScript executes a Lua script via EVALSHA, falling back to EVAL on NOSCRIPT.
// The script's integer reply is returned.
func (s *Store) RunScript(ctx context.Context, script *db.Script, keys, args []string) (int64, error) {
	lua := s.lua(script)
	n, err := lua.Exec(ctx, s.client, keys, args).AsInt64()
	if err != nil {
		return 0, &db.Error{Op: db.OpEval + " " + script.Name, Err: err}
	}
	return n, nil
}

func (s *Store) lua(script *db.Script) *rueidis.Lua {
	if l, ok := s.scripts.Load(script); ok {
		return l.(*rueidis.Lua) //nolint:forcetypeassert // map only ever holds *rueidis.Lua
	}
	l, _ := s.scripts.LoadOrStore(script, rueidis.NewLuaScript(script.Source))
	return l.(*rueidis.Lua) //nolint:forcetypeassert // see above
}
