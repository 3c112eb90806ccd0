package stage

import (
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

const (
	stageInit     Stage = "Init"
	stageRunning  Stage = "Running"
	stageShutDown Stage = "ShutDown"
)

func TestCanOperateOnInitialValue(t *testing.T) {
	m := NewManager(stageInit)
	gotStage := m.Current()
	assert.Equal(t, stageInit, gotStage)

	gotStage = m.Swap(stageShutDown)
	assert.Equal(t, stageInit, gotStage)
}

func TestCanCompareAndSwapOnInitialValue(t *testing.T) {
	m := NewManager(stageInit)
	ok := m.CompareAndSwap(stageShutDown, stageShutDown)
	assert.Check(t, !ok, "manager should still be at the initial stage")

	ok = m.CompareAndSwap(stageInit, stageShutDown)
	assert.Check(t, ok, "compare and swap should succeed with correct old value")

	assert.Equal(t, stageShutDown, m.Current())
}

func TestOnlyOneCompareAndSwapSuccess(t *testing.T) {
	successCh := make(chan bool)
	m := NewManager(stageInit)

	for i := 0; i < 10; i++ {
		go func() {
			ok := m.CompareAndSwap(stageInit, stageShutDown)
			successCh <- ok
		}()
	}

	successCount := 0
	failureCount := 0
	for i := 0; i < 10; i++ {
		if <-successCh {
			successCount++
		} else {
			failureCount++
		}
	}
	assert.Equal(t, 1, successCount)
	assert.Equal(t, 9, failureCount)
}

func TestNotifyOnStageFiresOnArrival(t *testing.T) {
	m := NewManager(stageInit)
	ch := m.NotifyOnStage(stageRunning)

	select {
	case <-ch:
		t.Fatal("notify channel closed before the stage was reached")
	default:
	}

	m.Store(stageRunning)
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("notify channel was not closed after reaching the stage")
	}
}

func TestNotifyOnStageAlreadyThere(t *testing.T) {
	m := NewManager(stageRunning)
	select {
	case <-m.NotifyOnStage(stageRunning):
	case <-time.After(time.Second):
		t.Fatal("notify channel should close immediately for the current stage")
	}
}
