package portscan

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// SSScanner lists TCP listeners with iproute2's ss.
type SSScanner struct{}

func NewSSScanner() *SSScanner { return &SSScanner{} }

func (s *SSScanner) Describe() string { return "ss" }

func (s *SSScanner) Scan(ctx context.Context) ([]Entry, error) {
	out, err := runTool(ctx, "ss", "-ltnp")
	if err != nil {
		return nil, fmt.Errorf("portscan: ss: %w", err)
	}
	return parseSSOutput(string(out)), nil
}

// parseSSOutput parses `ss -ltnp` output:
//
//	State  Recv-Q Send-Q Local Address:Port  Peer Address:Port Process
//	LISTEN 0      511         0.0.0.0:3000        0.0.0.0:*    users:(("node",pid=41234,fd=23))
//
// The process column is absent for sockets owned by other users; those
// entries keep pid 0 and an empty program.
func parseSSOutput(out string) []Entry {
	var entries []Entry
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 || fields[0] != "LISTEN" {
			continue
		}
		port, ok := portFromAddr(fields[3])
		if !ok {
			continue
		}
		e := Entry{Port: port, Protocol: "tcp"}
		if len(fields) >= 6 {
			e.Program, e.PID = parseSSProcess(fields[5])
		}
		entries = append(entries, e)
	}
	return entries
}

// parseSSProcess pulls the program name and pid out of
// `users:(("node",pid=41234,fd=23))`.
func parseSSProcess(col string) (string, int) {
	name := ""
	if i := strings.Index(col, `(("`); i >= 0 {
		rest := col[i+3:]
		if j := strings.Index(rest, `"`); j >= 0 {
			name = rest[:j]
		}
	}
	pid := 0
	if i := strings.Index(col, "pid="); i >= 0 {
		rest := col[i+4:]
		end := strings.IndexFunc(rest, func(r rune) bool { return r < '0' || r > '9' })
		if end < 0 {
			end = len(rest)
		}
		if n, err := strconv.Atoi(rest[:end]); err == nil {
			pid = n
		}
	}
	return name, pid
}
