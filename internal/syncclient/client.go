// Package syncclient controls the cloud-sync client and reports its transfer state.
package syncclient

import (
	"context"
	"strings"
)

// State is the sync client's transfer state as reported by a Probe.
type State string

const (
	StateSyncing  State = "syncing"
	StateUpToDate State = "up_to_date"
	StateUnknown  State = "unknown"
)

// ParseState maps probe output to a State. Unrecognised text is StateUnknown.
func ParseState(raw string) State {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "syncing", "sync", "busy", "uploading", "downloading":
		return StateSyncing
	case "up_to_date", "up-to-date", "uptodate", "idle", "synced":
		return StateUpToDate
	default:
		return StateUnknown
	}
}

// Pauser pauses and resumes synchronization.
type Pauser interface {
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
}

// Probe reports whether the sync client is still transferring.
type Probe interface {
	QuerySyncState(ctx context.Context) (State, error)
}

// Client combines a Pauser and a Probe into the full sync-client contract.
type Client struct {
	Pauser
	Probe
}

// New returns a Client. A nil probe reports StateUnknown.
func New(pauser Pauser, probe Probe) *Client {
	if probe == nil {
		probe = StaticProbe(StateUnknown)
	}
	return &Client{Pauser: pauser, Probe: probe}
}

// StaticProbe always reports the same state.
type StaticProbe State

// QuerySyncState implements Probe.
func (p StaticProbe) QuerySyncState(context.Context) (State, error) {
	return State(p), nil
}
