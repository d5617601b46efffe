package runner

import (
	"github.com/hashicorp/go-msgpack/v2/codec"
)

// ScheduleSnapshot is a point-in-time, debug-facing view of one schedule
// slot. Unlike the persisted KV encoding (runner.EncodeSchedule), snapshots
// are never written back to the schedule store and carry no corruption
// invariant, so they use the project's general-purpose msgpack codec
// instead of the fixed-width wire format.
type ScheduleSnapshot struct {
	Index         int
	TaskID        uint8
	TaskName      string
	Running       bool
	LastRun       uint64
	LastTerminate uint64
	Runtime       uint64
	RescheduleCnt uint64
}

// Snapshot captures the live state of every evaluated schedule slot, for
// the reference daemon's -trace flag and for tests asserting on runner
// internals without reaching into unexported fields.
func (r *Runner) Snapshot() []ScheduleSnapshot {
	out := make([]ScheduleSnapshot, 0, r.numEval)
	for i := 0; i < r.numEval; i++ {
		sched := r.schedules[i]
		if sched == nil {
			continue
		}
		state := r.states[i]
		snap := ScheduleSnapshot{
			Index:  i,
			TaskID: sched.TaskID,
		}
		if state != nil {
			snap.LastRun = state.LastRun
			snap.LastTerminate = state.LastTerminate
			snap.Runtime = state.Runtime
			if idx := state.TaskIndex; idx >= 0 && idx < len(r.Tasks) {
				snap.TaskName = r.Tasks[idx].Name
				snap.Running = r.taskStates[idx].Running()
				snap.RescheduleCnt = r.taskStates[idx].RescheduleCount()
			}
		}
		out = append(out, snap)
	}
	return out
}

var msgpackHandle codec.MsgpackHandle

// EncodeSnapshot serializes a snapshot slice with msgpack, for the
// reference daemon to write to its -trace output.
func EncodeSnapshot(snap []ScheduleSnapshot) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, &msgpackHandle)
	if err := enc.Encode(snap); err != nil {
		return nil, err
	}
	return buf, nil
}

// DecodeSnapshot is the inverse of EncodeSnapshot, used by tooling that
// inspects a previously captured trace.
func DecodeSnapshot(b []byte) ([]ScheduleSnapshot, error) {
	var snap []ScheduleSnapshot
	dec := codec.NewDecoderBytes(b, &msgpackHandle)
	if err := dec.Decode(&snap); err != nil {
		return nil, err
	}
	return snap, nil
}
