package main

import "time"

// Flag structs decouple cobra from command logic so tests can call the
// handlers directly.

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags select the daemon a client command talks to.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

type ServeFlags struct {
	ConfigPath string
	Listen     string
	Daemonize  bool
	PidFile    string
	LogFile    string
	Open       bool
}

type ScanFlags struct {
	ConfigPath string
	Layout     string
}

type UnitsFlags struct {
	Layout string
	APIFlags
}

type ScriptFlags struct {
	Unit   string
	Script string
	APIFlags
}

type BatchFlags struct {
	Paths []string
	APIFlags
}

type EventsFlags struct {
	// Count stops after that many events; zero follows until interrupted.
	Count int
	APIFlags
}
