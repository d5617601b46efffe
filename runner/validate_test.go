package runner

import (
	"testing"

	"github.com/shoenig/test/must"
)

func testTasks() []TaskDefinition {
	return []TaskDefinition{
		{ID: 1, Name: "gnss", Kind: ThreadKind},
		{ID: 2, Name: "imu", Kind: WorkItemKind},
	}
}

func TestValidate_OK(t *testing.T) {
	s := &Schedule{
		TaskID:      1,
		Validity:    Validity{Mode: Always},
		Periodicity: Periodicity{Kind: Fixed, PeriodS: 5},
	}
	must.NoError(t, Validate(s, testTasks()))
}

func TestValidate_UnknownTask(t *testing.T) {
	s := &Schedule{
		TaskID:      99,
		Validity:    Validity{Mode: Always},
		Periodicity: Periodicity{Kind: Fixed, PeriodS: 5},
	}
	err := Validate(s, testTasks())
	must.ErrorIs(t, err, ErrInvalidArgument)
}

func TestValidate_RunawayFixedZero(t *testing.T) {
	s := &Schedule{
		TaskID:      1,
		Validity:    Validity{Mode: Always},
		Periodicity: Periodicity{Kind: Fixed, PeriodS: 0},
	}
	must.Error(t, Validate(s, testTasks()))
}

func TestValidate_PermanentlyRunsAllowsZeroPeriod(t *testing.T) {
	s := &Schedule{
		TaskID:      1,
		Validity:    Validity{Mode: PermanentlyRuns},
		Periodicity: Periodicity{Kind: Fixed, PeriodS: 0},
	}
	must.NoError(t, Validate(s, testTasks()))
}

func TestValidate_BatteryThresholdsOutOfRange(t *testing.T) {
	s := &Schedule{
		TaskID:                1,
		Validity:              Validity{Mode: Always},
		Periodicity:           Periodicity{Kind: Fixed, PeriodS: 5},
		BatteryStartThreshold: 101,
	}
	must.Error(t, Validate(s, testTasks()))
}

func TestValidate_AfterPredecessorOutOfRange(t *testing.T) {
	s := &Schedule{
		TaskID:      1,
		Validity:    Validity{Mode: Always},
		Periodicity: Periodicity{Kind: After, PredecessorIndex: SMax, GapS: 2},
	}
	err := Validate(s, testTasks())
	must.ErrorIs(t, err, ErrInvalidArgument)
}

func TestValidate_AggregatesMultipleErrors(t *testing.T) {
	s := &Schedule{
		TaskID:                99,
		Validity:              Validity{Mode: ValidityMode(99)},
		Periodicity:           Periodicity{Kind: Fixed, PeriodS: 0},
		BatteryStartThreshold: 200,
	}
	err := Validate(s, testTasks())
	must.Error(t, err)
	// go-multierror's Error() lists each wrapped error on its own line;
	// with four independent violations we expect more than one line.
	must.StrContains(t, err.Error(), "4 errors occurred")
}
