package runner

import (
	"encoding/binary"
	"fmt"
)

// EncodedScheduleSize is the wire size of a Schedule, in bytes. Persisted
// schedules are stamped with (EncodedScheduleSize<<16 | app id), so a
// layout change invalidates every persisted schedule rather than silently
// misreading one.
//
// The encoding is fixed-width binary (encoding/binary), not msgpack:
// msgpack's variable-length integers mean the same struct can serialize to
// different byte counts depending on field values, which would defeat the
// exact-length corruption check on slot reads.
const EncodedScheduleSize = 1 /*TaskID*/ +
	1 /*Validity.Mode*/ +
	1 /*Validity.Locked*/ +
	1 + MaxStateNameLen /*Validity.State*/ +
	1 /*Periodicity.Kind*/ +
	4 /*PeriodS*/ +
	4 /*LockoutS*/ +
	2 /*PredecessorIndex*/ +
	4 /*GapS*/ +
	4 /*TimeoutS*/ +
	1 /*BatteryStartThreshold*/ +
	1 /*BatteryTerminateThreshold*/ +
	1 + MaxTaskLogging*5 /*LoggingCount + entries*/ +
	2 + MaxTaskArgsLen /*TaskArgsLen + bytes*/

// SchemaID computes the 32-bit default-id stamp for the given
// application-supplied id.
func SchemaID(appID uint16) uint32 {
	return uint32(EncodedScheduleSize)<<16 | uint32(appID)
}

// EncodeSchedule renders s into its fixed-width wire representation.
func EncodeSchedule(s *Schedule) []byte {
	b := make([]byte, EncodedScheduleSize)
	off := 0

	putU8 := func(v uint8) { b[off] = v; off++ }
	putU16 := func(v uint16) { binary.BigEndian.PutUint16(b[off:], v); off += 2 }
	putU32 := func(v uint32) { binary.BigEndian.PutUint32(b[off:], v); off += 4 }

	putU8(s.TaskID)
	putU8(uint8(s.Validity.Mode))
	if s.Validity.Locked {
		putU8(1)
	} else {
		putU8(0)
	}

	state := []byte(s.Validity.State)
	if len(state) > MaxStateNameLen {
		state = state[:MaxStateNameLen]
	}
	putU8(uint8(len(state)))
	copy(b[off:off+MaxStateNameLen], state)
	off += MaxStateNameLen

	putU8(uint8(s.Periodicity.Kind))
	putU32(s.Periodicity.PeriodS)
	putU32(s.Periodicity.LockoutS)
	putU16(s.Periodicity.PredecessorIndex)
	putU32(s.Periodicity.GapS)

	putU32(s.TimeoutS)
	putU8(s.BatteryStartThreshold)
	putU8(s.BatteryTerminateThreshold)

	logCount := len(s.Logging)
	if logCount > MaxTaskLogging {
		logCount = MaxTaskLogging
	}
	putU8(uint8(logCount))
	for i := 0; i < MaxTaskLogging; i++ {
		if i < logCount {
			putU8(s.Logging[i].Sinks)
			putU32(s.Logging[i].TDFMask)
		} else {
			putU8(0)
			putU32(0)
		}
	}

	argsLen := len(s.TaskArgs)
	if argsLen > MaxTaskArgsLen {
		argsLen = MaxTaskArgsLen
	}
	putU16(uint16(argsLen))
	copy(b[off:off+MaxTaskArgsLen], s.TaskArgs[:argsLen])
	off += MaxTaskArgsLen

	return b
}

// DecodeSchedule parses a schedule from its wire representation. It returns
// ErrStorageCorrupt if b is not exactly EncodedScheduleSize bytes; callers
// treat such a slot as invalid rather than guessing at partial contents.
func DecodeSchedule(b []byte) (*Schedule, error) {
	if len(b) != EncodedScheduleSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrStorageCorrupt, EncodedScheduleSize, len(b))
	}

	off := 0
	getU8 := func() uint8 { v := b[off]; off++; return v }
	getU16 := func() uint16 { v := binary.BigEndian.Uint16(b[off:]); off += 2; return v }
	getU32 := func() uint32 { v := binary.BigEndian.Uint32(b[off:]); off += 4; return v }

	s := &Schedule{}
	s.TaskID = getU8()
	s.Validity.Mode = ValidityMode(getU8())
	s.Validity.Locked = getU8() != 0

	stateLen := int(getU8())
	if stateLen > MaxStateNameLen {
		stateLen = MaxStateNameLen
	}
	s.Validity.State = string(b[off : off+stateLen])
	off += MaxStateNameLen

	s.Periodicity.Kind = PeriodicityKind(getU8())
	s.Periodicity.PeriodS = getU32()
	s.Periodicity.LockoutS = getU32()
	s.Periodicity.PredecessorIndex = getU16()
	s.Periodicity.GapS = getU32()

	s.TimeoutS = getU32()
	s.BatteryStartThreshold = getU8()
	s.BatteryTerminateThreshold = getU8()

	logCount := int(getU8())
	if logCount > MaxTaskLogging {
		logCount = MaxTaskLogging
	}
	logging := make([]TaskLogging, 0, logCount)
	for i := 0; i < MaxTaskLogging; i++ {
		sinks := getU8()
		mask := getU32()
		if i < logCount {
			logging = append(logging, TaskLogging{Sinks: sinks, TDFMask: mask})
		}
	}
	s.Logging = logging

	argsLen := int(getU16())
	if argsLen > MaxTaskArgsLen {
		argsLen = MaxTaskArgsLen
	}
	s.TaskArgs = append([]byte(nil), b[off:off+argsLen]...)
	off += MaxTaskArgsLen

	return s, nil
}
