package runner

import (
	"encoding/binary"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/infuse-iot/taskrunner/kv"
)

// Reserved KV key range: one default-id key plus one key per slot
// 0..SMax-1.
const (
	defaultIDKey  = "schedule/default-id"
	slotKeyPrefix = "schedule/slot/"

	// ReservedKeyPrefix is the prefix the store registers for change
	// notifications over its entire reserved range.
	ReservedKeyPrefix = "schedule/"
)

func slotKey(i int) string {
	return fmt.Sprintf("%s%d", slotKeyPrefix, i)
}

// Loader merges compile-time default schedules with a persistent KV store.
// When the persisted default-id matches the expected schema identifier,
// non-locked slots come from persistence; otherwise every slot is reset to
// its default and the new identifier is written back.
type Loader struct {
	KV           kv.Store
	Tasks        []TaskDefinition
	AppDefaultID uint16
	Logger       hclog.Logger
}

// Load returns the in-RAM schedule array (nil entries are invalid slots)
// and numEval, the highest valid slot index + 1.
func (l *Loader) Load(defaults []*Schedule) (schedules [SMax]*Schedule, numEval int) {
	logger := l.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	expected := SchemaID(l.AppDefaultID)

	overwrite := true
	if raw, err := l.KV.Read(defaultIDKey); err == nil && len(raw) == 4 {
		if binary.BigEndian.Uint32(raw) == expected {
			overwrite = false
		}
	}

	if overwrite {
		logger.Info("schedule set identifier mismatch, resetting schedules to defaults",
			"expected_id", expected)
		for i := 0; i < SMax; i++ {
			var def *Schedule
			if i < len(defaults) {
				def = defaults[i]
			}
			if def != nil && Validate(def, l.Tasks) == nil {
				schedules[i] = def.Copy()
				_ = l.KV.Write(slotKey(i), EncodeSchedule(def))
			} else {
				// Leftover (invalid or absent) defaults do not
				// consume a slot: delete any stale persisted
				// value so a later merge-mode load doesn't
				// resurrect it.
				_ = l.KV.Delete(slotKey(i))
			}
		}
		idBytes := make([]byte, 4)
		binary.BigEndian.PutUint32(idBytes, expected)
		_ = l.KV.Write(defaultIDKey, idBytes)
	} else {
		for i := 0; i < SMax; i++ {
			var def *Schedule
			if i < len(defaults) {
				def = defaults[i]
			}

			if def != nil && def.Validity.Locked {
				schedules[i] = def.Copy()
				continue
			}

			raw, err := l.KV.Read(slotKey(i))
			if err != nil {
				continue // absent: slot stays invalid
			}
			if len(raw) != EncodedScheduleSize {
				logger.Warn("schedule slot storage corrupt, ignoring", "slot", i, "len", len(raw))
				continue
			}
			sched, err := DecodeSchedule(raw)
			if err != nil {
				logger.Warn("schedule slot failed to decode, ignoring", "slot", i, "error", err)
				continue
			}
			schedules[i] = sched
		}
	}

	numEval = 0
	for i := SMax - 1; i >= 0; i-- {
		if schedules[i] != nil {
			numEval = i + 1
			break
		}
	}

	return schedules, numEval
}
