package logmodel_test

import (
	"testing"

	"github.com/lumenstack/logflow/logmodel"
)

func TestLevelIsValid(t *testing.T) {
	tests := []struct {
		level logmodel.Level
		want  bool
	}{
		{logmodel.LevelDebug, true},
		{logmodel.LevelInfo, true},
		{logmodel.LevelWarning, true},
		{logmodel.LevelError, true},
		{logmodel.LevelCritical, true},
		{"bogus", false},
		{"", false},
	}
	for _, tc := range tests {
		if got := tc.level.IsValid(); got != tc.want {
			t.Errorf("Level(%q).IsValid() = %v, want %v", tc.level, got, tc.want)
		}
	}
}

func TestLevelIsNotifiable(t *testing.T) {
	tests := []struct {
		level logmodel.Level
		want  bool
	}{
		{logmodel.LevelError, true},
		{logmodel.LevelCritical, true},
		{logmodel.LevelWarning, false},
		{logmodel.LevelInfo, false},
		{logmodel.LevelDebug, false},
	}
	for _, tc := range tests {
		if got := tc.level.IsNotifiable(); got != tc.want {
			t.Errorf("Level(%q).IsNotifiable() = %v, want %v", tc.level, got, tc.want)
		}
	}
}

func TestLogTypeIsValid(t *testing.T) {
	tests := []struct {
		logType logmodel.LogType
		want    bool
	}{
		{logmodel.LogTypeConsole, true},
		{logmodel.LogTypeLogger, true},
		{logmodel.LogTypeException, true},
		{logmodel.LogTypeNetwork, true},
		{logmodel.LogTypeDatabase, true},
		{logmodel.LogTypeEndpoint, true},
		{logmodel.LogTypeCustom, true},
		{"unknown", false},
	}
	for _, tc := range tests {
		if got := tc.logType.IsValid(); got != tc.want {
			t.Errorf("LogType(%q).IsValid() = %v, want %v", tc.logType, got, tc.want)
		}
	}
}

func TestImportanceIsValid(t *testing.T) {
	tests := []struct {
		importance logmodel.Importance
		want       bool
	}{
		{"", true},
		{logmodel.ImportanceLow, true},
		{logmodel.ImportanceStandard, true},
		{logmodel.ImportanceHigh, true},
		{logmodel.ImportanceCritical, true},
		{"extreme", false},
	}
	for _, tc := range tests {
		if got := tc.importance.IsValid(); got != tc.want {
			t.Errorf("Importance(%q).IsValid() = %v, want %v", tc.importance, got, tc.want)
		}
	}
}
