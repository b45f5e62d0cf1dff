package db

// Script is a named Lua script executed atomically by the server.
// Drivers cache the loaded script per *Script, so declare scripts once at package level.
type Script struct {
	Name   string
	Source string
}

// NewScript creates a Script.
func NewScript(name, source string) *Script {
	return &Script{Name: name, Source: source}
}
