package shutdown

import (
	"os"
	"syscall"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/aleksa2808/bevy-networked-platformer/log"
)

func TestOnSignalRunsStop(t *testing.T) {
	stopped := make(chan struct{})
	OnSignal(log.Nop(), time.Second, func() error {
		close(stopped)
		return nil
	})

	p, err := os.FindProcess(os.Getpid())
	assert.NilError(t, err)
	assert.NilError(t, p.Signal(syscall.SIGTERM))

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop was not invoked after SIGTERM")
	}
}
