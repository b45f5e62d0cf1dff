package domain

import "time"

// KeyPrefix is the default namespace for every key matchd writes.
const KeyPrefix = "matchd:"

// DefaultCycleInterval is the pause between coordination cycles.
const DefaultCycleInterval = 30 * time.Second

// DefaultHealthTimeout bounds the one-shot startup probe of a scoring source.
const DefaultHealthTimeout = 5 * time.Second
