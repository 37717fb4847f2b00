package cli

type task struct {
	Name        string  `json:"name"`
	Trigger     string  `json:"trigger"`
	Description string  `json:"description"`
	Enabled     bool    `json:"enabled"`
	LastRunAt   *string `json:"last_run_at"`
	LastOutcome string  `json:"last_outcome"`
	NextRunAt   *string `json:"next_run_at"`
}

type step struct {
	Name       string `json:"name"`
	Outcome    string `json:"outcome"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error"`
}

type run struct {
	ID         string  `json:"id"`
	TaskID     string  `json:"task_id"`
	Outcome    string  `json:"outcome"`
	FinalState string  `json:"final_state"`
	StartedAt  string  `json:"started_at"`
	EndedAt    *string `json:"ended_at"`
	Error      *string `json:"error"`
	Steps      []step  `json:"steps"`
}

type result struct {
	Outcome    string `json:"outcome"`
	FinalState string `json:"final_state"`
	Error      string `json:"error"`
	Steps      []step `json:"steps"`
}

type workflowStatus struct {
	Task              string  `json:"task"`
	LastRun           *run    `json:"last_run"`
	CooldownRemaining float64 `json:"cooldown_remaining_s"`
}

type preview struct {
	Valid       bool     `json:"valid"`
	Description string   `json:"description"`
	NextTimes   []string `json:"next_times"`
	Message     string   `json:"message"`
}

type processInfo struct {
	PID   int32  `json:"pid"`
	Name  string `json:"name"`
	Path  string `json:"path"`
	State string `json:"state"`
}
