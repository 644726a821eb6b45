package portscan

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// LsofScanner lists TCP listeners with lsof. Preferred where available
// because it resolves program names without extra privileges for the
// caller's own processes.
type LsofScanner struct{}

func NewLsofScanner() *LsofScanner { return &LsofScanner{} }

func (s *LsofScanner) Describe() string { return "lsof" }

func (s *LsofScanner) Scan(ctx context.Context) ([]Entry, error) {
	out, err := runTool(ctx, "lsof", "-nP", "-iTCP", "-sTCP:LISTEN")
	if err != nil {
		return nil, fmt.Errorf("portscan: lsof: %w", err)
	}
	return parseLsofOutput(string(out)), nil
}

// parseLsofOutput parses `lsof -nP -iTCP -sTCP:LISTEN` output:
//
//	COMMAND   PID USER   FD   TYPE DEVICE SIZE/OFF NODE NAME
//	node    41234 dev   23u  IPv4 123456      0t0  TCP 127.0.0.1:3000 (LISTEN)
//
// Unparseable lines are skipped.
func parseLsofOutput(out string) []Entry {
	var entries []Entry
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 9 || fields[0] == "COMMAND" {
			continue
		}
		pid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		port, ok := portFromAddr(fields[8])
		if !ok {
			continue
		}
		entries = append(entries, Entry{
			PID:      pid,
			Port:     port,
			Protocol: strings.ToLower(fields[7]),
			Program:  fields[0],
		})
	}
	return entries
}

// portFromAddr extracts the port from an address like "127.0.0.1:3000",
// "*:8080" or "[::1]:9000".
func portFromAddr(addr string) (int, bool) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 || idx == len(addr)-1 {
		return 0, false
	}
	port, err := strconv.Atoi(addr[idx+1:])
	if err != nil || port < 1 || port > 65535 {
		return 0, false
	}
	return port, true
}
