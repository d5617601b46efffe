package runner

import (
	"testing"

	"github.com/shoenig/test/must"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	tasks := []TaskDefinition{{ID: 1, Name: "T_A", Kind: WorkItemKind, WorkFn: func(int, *TermSignal, TaskArg) WorkResult { return Done() }}}
	defaults := []*Schedule{{TaskID: 1, Validity: Validity{Mode: Always}, Periodicity: Periodicity{Kind: Fixed, PeriodS: 5}}}

	r, _ := newTestRunner(t)
	r.Init(defaults, tasks, nil)
	r.states[0].LastRun = 42

	snap := r.Snapshot()
	must.Len(t, 1, snap)
	must.Eq(t, uint64(42), snap[0].LastRun)
	must.Eq(t, "T_A", snap[0].TaskName)

	encoded, err := EncodeSnapshot(snap)
	must.NoError(t, err)

	decoded, err := DecodeSnapshot(encoded)
	must.NoError(t, err)
	must.Eq(t, snap, decoded)
}
