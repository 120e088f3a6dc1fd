package metrics

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngine(t *testing.T) {
	engine := NewEngine()
	if engine == nil {
		t.Fatal("NewEngine() returned nil")
	}

	snapshot := engine.Snapshot()
	if snapshot.Requests.Total != 0 {
		t.Errorf("Initial Requests.Total = %d, want 0", snapshot.Requests.Total)
	}
	if snapshot.Phase != PhaseInit {
		t.Errorf("Initial phase = %v, want %v", snapshot.Phase, PhaseInit)
	}
	if snapshot.RunID == "" {
		t.Error("RunID is empty")
	}
	if len(snapshot.Checks) != 0 {
		t.Errorf("Initial checks = %v, want empty", snapshot.Checks)
	}
}

func TestEngine_RecordCheck(t *testing.T) {
	engine := NewEngine()

	engine.RecordCheck("status is 200", true)
	engine.RecordCheck("status is 200", true)
	engine.RecordCheck("status is 200", false)
	engine.RecordCheck("body has id", false)

	snapshot := engine.Snapshot()
	assert.Equal(t, CheckCounts{Passed: 2, Failed: 1}, snapshot.Checks["status is 200"])
	assert.Equal(t, CheckCounts{Passed: 0, Failed: 1}, snapshot.Checks["body has id"])
	assert.Equal(t, CheckCounts{Passed: 2, Failed: 2}, snapshot.ChecksTotal())
	assert.Equal(t, []string{"body has id", "status is 200"}, engine.CheckNames())
}

func TestEngine_RecordCheck_Concurrent(t *testing.T) {
	engine := NewEngine()

	const workers = 50
	const perWorker = 20

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				engine.RecordCheck("X", (w*perWorker+i)%2 == 0)
			}
		}(w)
	}
	wg.Wait()

	snapshot := engine.Snapshot()
	require.Contains(t, snapshot.Checks, "X")
	assert.Equal(t, int64(500), snapshot.Checks["X"].Passed)
	assert.Equal(t, int64(500), snapshot.Checks["X"].Failed)
}

func TestEngine_Snapshot_Idempotent(t *testing.T) {
	engine := NewEngine()
	engine.RecordCheck("a", true)
	engine.RecordCheck("b", false)
	engine.RecordRequest("step", 10*time.Millisecond, 100, false)
	engine.IterationStarted()
	engine.IterationFinished(false)

	first := engine.Snapshot()
	second := engine.Snapshot()

	assert.Equal(t, first.Checks, second.Checks)
	assert.Equal(t, first.Iterations, second.Iterations)
	assert.Equal(t, first.Requests, second.Requests)
	assert.Equal(t, first.Latency, second.Latency)
}

func TestEngine_Snapshot_IsCopy(t *testing.T) {
	engine := NewEngine()
	engine.RecordCheck("a", true)

	snapshot := engine.Snapshot()
	engine.RecordCheck("a", true)
	engine.RecordCheck("b", true)

	assert.Equal(t, int64(1), snapshot.Checks["a"].Passed)
	assert.NotContains(t, snapshot.Checks, "b")
}

func TestEngine_CheckSink(t *testing.T) {
	var received atomic.Int64
	var failed atomic.Int64
	engine := NewEngineWithConfig(EngineConfig{
		CheckSink: CheckSinkFunc(func(r CheckResult) {
			received.Add(1)
			if !r.Passed {
				failed.Add(1)
			}
			if r.Timestamp.IsZero() {
				t.Error("CheckResult.Timestamp is zero")
			}
		}),
	})

	engine.RecordCheck("a", true)
	engine.RecordCheck("a", false)

	assert.Equal(t, int64(2), received.Load())
	assert.Equal(t, int64(1), failed.Load())
}

func TestEngine_RecordRequest(t *testing.T) {
	engine := NewEngine()

	engine.RecordRequest("create", 10*time.Millisecond, 1000, false)
	engine.RecordRequest("create", 20*time.Millisecond, 2000, false)
	engine.RecordRequest("read", 30*time.Millisecond, 500, false)
	engine.RecordRequest("read", 0, 0, true)

	snapshot := engine.Snapshot()

	if snapshot.Requests.Total != 4 {
		t.Errorf("Requests.Total = %d, want 4", snapshot.Requests.Total)
	}
	if snapshot.Requests.TransportErrors != 1 {
		t.Errorf("Requests.TransportErrors = %d, want 1", snapshot.Requests.TransportErrors)
	}
	if snapshot.Requests.TotalBytes != 3500 {
		t.Errorf("Requests.TotalBytes = %d, want 3500", snapshot.Requests.TotalBytes)
	}
	if snapshot.Latency.Count != 3 {
		t.Errorf("Latency.Count = %d, want 3", snapshot.Latency.Count)
	}
	if snapshot.Steps["create"].Count != 2 {
		t.Errorf("create count = %d, want 2", snapshot.Steps["create"].Count)
	}
	if snapshot.Steps["read"].Count != 1 {
		t.Errorf("read count = %d, want 1", snapshot.Steps["read"].Count)
	}
}

func TestEngine_LatencyPercentiles(t *testing.T) {
	engine := NewEngine()

	for i := 1; i <= 10; i++ {
		engine.RecordRequest("", time.Duration(i*10)*time.Millisecond, 0, false)
	}

	latency := engine.Snapshot().Latency

	// P50 should be around 50ms (with some tolerance for HDR histogram binning)
	if latency.P50 < 40*time.Millisecond || latency.P50 > 60*time.Millisecond {
		t.Errorf("P50 = %v, want ~50ms (±10ms)", latency.P50)
	}
	if latency.P99 < 90*time.Millisecond || latency.P99 > 110*time.Millisecond {
		t.Errorf("P99 = %v, want ~100ms (±10ms)", latency.P99)
	}
	if latency.Min < 9*time.Millisecond || latency.Min > 11*time.Millisecond {
		t.Errorf("Min = %v, want ~10ms", latency.Min)
	}
	if latency.Max < 99*time.Millisecond || latency.Max > 101*time.Millisecond {
		t.Errorf("Max = %v, want ~100ms", latency.Max)
	}
	if latency.Mean < 50*time.Millisecond || latency.Mean > 60*time.Millisecond {
		t.Errorf("Mean = %v, want ~55ms", latency.Mean)
	}
}

func TestEngine_Iterations(t *testing.T) {
	engine := NewEngine()

	for i := 0; i < 5; i++ {
		engine.IterationStarted()
	}
	engine.IterationFinished(false)
	engine.IterationFinished(false)
	engine.IterationFinished(true)

	it := engine.Snapshot().Iterations
	assert.Equal(t, IterationStats{Started: 5, Completed: 2, Aborted: 1}, it)
}

func TestEngine_Phase(t *testing.T) {
	engine := NewEngine()

	if engine.GetPhase() != PhaseInit {
		t.Errorf("Initial phase = %v, want %v", engine.GetPhase(), PhaseInit)
	}

	phases := []Phase{PhaseRampUp, PhaseSteady, PhaseRampDown, PhaseDraining, PhaseDone}
	for _, phase := range phases {
		engine.SetPhase(phase)
		if engine.GetPhase() != phase {
			t.Errorf("After SetPhase(%v), GetPhase() = %v", phase, engine.GetPhase())
		}
	}

	// Repeating a phase is not a transition
	engine.SetPhase(PhaseDone)

	history := engine.GetPhaseHistory()
	if len(history) != len(phases) {
		t.Errorf("PhaseHistory length = %d, want %d", len(history), len(phases))
	}
}

func TestEngine_VUs(t *testing.T) {
	engine := NewEngine()

	engine.SetActiveVUs(3)
	engine.SetActiveVUs(10)
	engine.SetActiveVUs(4)
	engine.SetTargetVUs(7)

	snapshot := engine.Snapshot()
	assert.Equal(t, 4, snapshot.ActiveVUs)
	assert.Equal(t, 10, snapshot.PeakVUs)
	assert.Equal(t, 7, snapshot.TargetVUs)
}

func TestEngine_Warnings(t *testing.T) {
	engine := NewEngine()
	assert.Empty(t, engine.Snapshot().Warnings)

	engine.AddWarning("2 VUs did not stop within 30s")
	assert.Equal(t, []string{"2 VUs did not stop within 30s"}, engine.Snapshot().Warnings)
}

func TestCheckCounts_PassRate(t *testing.T) {
	assert.Equal(t, 1.0, CheckCounts{}.PassRate())
	assert.Equal(t, 0.75, CheckCounts{Passed: 3, Failed: 1}.PassRate())
	assert.Equal(t, int64(4), CheckCounts{Passed: 3, Failed: 1}.Total())
}
