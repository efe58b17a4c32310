package app

import (
	"testing"
	"time"
)

func TestOperation_ID(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 30, 0, 0, time.FixedZone("CET", 3600))

	tests := []struct {
		name      string
		operation string
		want      string
	}{
		{name: "with name", operation: "run", want: "20240115T093000Z-run"},
		{name: "empty name", operation: "", want: "20240115T093000Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewOperation(tt.operation, start)
			if got := op.ID(); got != tt.want {
				t.Errorf("ID() = %q, want %q", got, tt.want)
			}
		})
	}
}
