package main

import "time"

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// ServeFlags Flag structs to decouple cobra from logic for testing.
type ServeFlags struct {
	ConfigPath string
}

type StatusFlags struct {
	ID string // optional; empty lists every server
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type StartFlags struct {
	ID string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type StopFlags struct {
	ID string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type PortsFlags struct {
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type KillFlags struct {
	PID  string
	Port string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}
