package db

import (
	"encoding/json"
	"testing"
)

func TestPoolStats_JSONShape(t *testing.T) {
	// Orchestration health checks consume the readiness endpoint; the key
	// names are part of its contract.
	stats := PoolStats{
		TotalConns:      10,
		IdleConns:       5,
		AcquiredConns:   5,
		MaxConns:        20,
		AcquireCount:    100,
		AcquireDuration: "1.5s",
		Healthy:         true,
	}

	raw, err := json.Marshal(stats)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{
		"total_conns", "idle_conns", "acquired_conns", "max_conns",
		"acquire_count", "acquire_duration", "healthy",
	} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("missing key %q in pool stats JSON", key)
		}
	}
	if decoded["healthy"] != true {
		t.Error("healthy flag not serialized")
	}
}
