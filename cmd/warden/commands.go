package main

import (
	"fmt"
	"time"
)

type command struct{}

// apiClientFor resolves the daemon endpoint: explicit --api-url wins,
// otherwise the local default, and the daemon must answer before any
// command-specific call goes out.
func apiClientFor(apiURL string, timeout time.Duration) (*APIClient, error) {
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8800/api" // Default local daemon
	}
	apiClient := NewAPIClient(apiURL, timeout)
	if !apiClient.IsReachable() {
		return nil, fmt.Errorf("daemon not reachable at %s - please start daemon first with 'warden serve'", apiURL)
	}
	return apiClient, nil
}

// Status prints the reconciled view of every server, or of one id.
func (c *command) Status(f StatusFlags) error {
	apiClient, err := apiClientFor(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}

	views, err := apiClient.GetServers()
	if err != nil {
		return err
	}

	if f.ID == "" {
		printJSON(views)
		return nil
	}
	for _, v := range views {
		if v["id"] == f.ID {
			printJSON(v)
			return nil
		}
	}
	return fmt.Errorf("no server with id %q", f.ID)
}

// Start asks the daemon to spawn a registered server.
func (c *command) Start(f StartFlags) error {
	if f.ID == "" {
		return fmt.Errorf("server id is required")
	}

	apiClient, err := apiClientFor(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}

	result, err := apiClient.ServerAction(f.ID, "start")
	if err != nil {
		return err
	}
	printJSON(result)
	return nil
}

// Stop asks the daemon to terminate a supervised server.
func (c *command) Stop(f StopFlags) error {
	if f.ID == "" {
		return fmt.Errorf("server id is required")
	}

	apiClient, err := apiClientFor(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}

	result, err := apiClient.ServerAction(f.ID, "stop")
	if err != nil {
		return err
	}
	printJSON(result)
	return nil
}

// Ports prints the daemon's current listening-port snapshot.
func (c *command) Ports(f PortsFlags) error {
	apiClient, err := apiClientFor(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}

	entries, err := apiClient.GetPorts()
	if err != nil {
		return err
	}
	printJSON(entries)
	return nil
}

// Kill terminates a process by pid or by listening port. The daemon refuses
// system pids, so a stray "kill --pid 1" fails there, not here.
func (c *command) Kill(f KillFlags) error {
	if f.PID == "" && f.Port == "" {
		return fmt.Errorf("kill requires --pid or --port")
	}

	apiClient, err := apiClientFor(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}

	result, err := apiClient.Kill(f.PID, f.Port)
	if err != nil {
		return err
	}
	printJSON(result)
	return nil
}
