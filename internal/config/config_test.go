package config

import (
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port == 0 {
		t.Error("default port unset")
	}
	if cfg.LLM.Provider != "claude-cli" {
		t.Errorf("default provider = %q", cfg.LLM.Provider)
	}
	if cfg.LLM.JudgeTimeout != 30*time.Second {
		t.Errorf("judge timeout = %v", cfg.LLM.JudgeTimeout)
	}
	if cfg.Scheduler.RescoreInterval != 5*time.Minute {
		t.Errorf("rescore interval = %v", cfg.Scheduler.RescoreInterval)
	}
	if cfg.Scheduler.PruneInterval != 30*24*time.Hour {
		t.Errorf("prune interval = %v", cfg.Scheduler.PruneInterval)
	}
	if cfg.Rubric.Critical == "" || cfg.Rubric.Negligible == "" {
		t.Error("rubric bands must have default text")
	}
}

func TestListenAddr(t *testing.T) {
	cfg := Default()
	cfg.Server.Bind = "0.0.0.0"
	cfg.Server.Port = 9999
	if got := cfg.ListenAddr(); got != "0.0.0.0:9999" {
		t.Errorf("ListenAddr = %q", got)
	}
}
