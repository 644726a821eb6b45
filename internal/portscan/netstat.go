package portscan

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// NetstatScanner lists TCP listeners with netstat, the lowest common
// denominator. Without privileges the PID/Program column reads "-"; those
// entries keep pid 0.
type NetstatScanner struct{}

func NewNetstatScanner() *NetstatScanner { return &NetstatScanner{} }

func (s *NetstatScanner) Describe() string { return "netstat" }

func (s *NetstatScanner) Scan(ctx context.Context) ([]Entry, error) {
	out, err := runTool(ctx, "netstat", "-tlnp")
	if err != nil {
		return nil, fmt.Errorf("portscan: netstat: %w", err)
	}
	return parseNetstatOutput(string(out)), nil
}

// parseNetstatOutput parses `netstat -tlnp` output:
//
//	Proto Recv-Q Send-Q Local Address   Foreign Address  State   PID/Program name
//	tcp        0      0 127.0.0.1:3000  0.0.0.0:*        LISTEN  41234/node
//	tcp6       0      0 :::8080         :::*             LISTEN  -
func parseNetstatOutput(out string) []Entry {
	var entries []Entry
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 6 || !strings.HasPrefix(fields[0], "tcp") {
			continue
		}
		if fields[5] != "LISTEN" {
			continue
		}
		port, ok := portFromAddr(fields[3])
		if !ok {
			continue
		}
		e := Entry{Port: port, Protocol: "tcp"}
		if len(fields) >= 7 && fields[6] != "-" {
			if pidStr, prog, found := strings.Cut(fields[6], "/"); found {
				if pid, err := strconv.Atoi(pidStr); err == nil {
					e.PID = pid
					e.Program = prog
				}
			}
		}
		entries = append(entries, e)
	}
	return entries
}
