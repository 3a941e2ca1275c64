package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNotification_CamelCaseNumericID(t *testing.T) {
	n, err := ParseNotification([]byte(`{"subjectId": 7, "checkedIn": true}`))
	require.NoError(t, err)

	assert.Equal(t, "7", n.SubjectID)
	assert.True(t, n.CheckedIn)
	assert.Nil(t, n.CheckinTime)
}

func TestParseNotification_SnakeCaseWithRFC3339Time(t *testing.T) {
	n, err := ParseNotification([]byte(`{"subject_id": "abc", "checked_in": true, "checkin_time": "2026-03-01T08:30:00Z"}`))
	require.NoError(t, err)

	assert.Equal(t, "abc", n.SubjectID)
	require.NotNil(t, n.CheckinTime)
	assert.True(t, n.CheckinTime.Equal(time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)))
}

func TestParseNotification_UnixMillisAndSeconds(t *testing.T) {
	ms, err := ParseNotification([]byte(`{"id": "1", "checkedIn": true, "checkinTime": 1772353800000}`))
	require.NoError(t, err)
	sec, err := ParseNotification([]byte(`{"id": "1", "checkedIn": true, "checkinTime": 1772353800}`))
	require.NoError(t, err)

	require.NotNil(t, ms.CheckinTime)
	require.NotNil(t, sec.CheckinTime)
	assert.True(t, ms.CheckinTime.Equal(*sec.CheckinTime))
}

func TestParseNotification_CheckedOut(t *testing.T) {
	n, err := ParseNotification([]byte(`{"subjectId": "7", "checkedIn": false}`))
	require.NoError(t, err)
	assert.False(t, n.CheckedIn)
}

func TestParseNotification_MissingSubject(t *testing.T) {
	_, err := ParseNotification([]byte(`{"checkedIn": true}`))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "missing subject id")
}

func TestParseNotification_InvalidJSON(t *testing.T) {
	_, err := ParseNotification([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseNotification_BadTime(t *testing.T) {
	_, err := ParseNotification([]byte(`{"subjectId": "7", "checkedIn": true, "checkinTime": "yesterday"}`))
	assert.Error(t, err)
}

func TestDisplayRecord_WithCheckinPrecedence(t *testing.T) {
	recordTime := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	notifiedTime := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	withRecordTime := DisplayRecord{ID: "1", CheckinTime: &recordTime}.WithCheckin(&notifiedTime, now)
	assert.True(t, withRecordTime.CheckinTime.Equal(recordTime))
	assert.True(t, withRecordTime.CheckedIn)

	withNotified := DisplayRecord{ID: "1"}.WithCheckin(&notifiedTime, now)
	assert.True(t, withNotified.CheckinTime.Equal(notifiedTime))

	withNow := DisplayRecord{ID: "1"}.WithCheckin(nil, now)
	assert.True(t, withNow.CheckinTime.Equal(now))
}

func TestDisplayRecord_WithCheckinDoesNotMutateOriginal(t *testing.T) {
	original := DisplayRecord{ID: "1"}
	_ = original.WithCheckin(nil, time.Now())

	assert.False(t, original.CheckedIn)
	assert.Nil(t, original.CheckinTime)
}

func TestDisplayRecord_Summary(t *testing.T) {
	rec := DisplayRecord{ID: "7", FullName: "Jane Doe", Unit: "Engineering"}
	assert.Equal(t, "Welcome, Jane Doe, Engineering", rec.Summary("Welcome"))

	minimal := MinimalRecord(CheckinNotification{SubjectID: "7", CheckedIn: true})
	assert.Equal(t, "7", minimal.Summary(""))
}
