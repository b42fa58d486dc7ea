package daemon

import (
	"testing"
	"time"
)

func TestLifecycleStatesTransitionOnConnectionEdges(t *testing.T) {
	t.Parallel()

	l := NewLifecycle(&Daemon{}, time.Hour, nil)
	l.state = stateServingIdle

	l.connectionOpened()
	if l.state != stateServingBusy {
		t.Fatalf("got state %v, want busy", l.state)
	}

	l.connectionOpened()
	l.connectionClosed()
	if l.state != stateServingBusy {
		t.Fatalf("got state %v, want still busy with one remaining connection", l.state)
	}

	l.connectionClosed()
	if l.state != stateServingIdle {
		t.Fatalf("got state %v, want idle once count reaches zero", l.state)
	}
}
