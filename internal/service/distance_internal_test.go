package service

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolSize(t *testing.T) {
	derived := 2 * runtime.GOMAXPROCS(0)

	tests := []struct {
		name    string
		workers int
		jobs    int
		want    int
	}{
		{name: "configured workers", workers: 4, jobs: 10, want: 4},
		{name: "fewer jobs than workers", workers: 4, jobs: 3, want: 3},
		{name: "derived from cpus", workers: 0, jobs: derived + 5, want: derived},
		{name: "derived capped by jobs", workers: -1, jobs: 1, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := &DistanceService{numWorkers: tt.workers}
			assert.Equal(t, tt.want, ds.poolSize(tt.jobs))
		})
	}
}
