package directory

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) map[string]interface{} {
	t.Helper()
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &raw))
	return raw
}

func TestNormalize_ThreeShapesYieldIdenticalRecord(t *testing.T) {
	personInfo := decode(t, `{
		"personInfo": {
			"id": 7, "code": "E007", "fullName": "Jane Doe", "unit": "Engineering",
			"position": "Lead", "email": "jane@example.com", "phone": "555-0107",
			"avatarUrl": "https://cdn.example.com/7.png", "checkedIn": true,
			"checkinTime": "2026-03-01T08:30:00Z"
		}
	}`)
	account := decode(t, `{
		"account": {
			"user_id": "7", "user_code": "E007", "full_name": "Jane Doe", "department": "Engineering",
			"job_title": "Lead", "email": "jane@example.com", "mobile": "555-0107",
			"avatar_url": "https://cdn.example.com/7.png", "checked_in": true,
			"checkin_time": 1772353800
		}
	}`)
	flat := decode(t, `{
		"id": "7", "code": "E007", "name": "Jane Doe", "unit": "Engineering",
		"title": "Lead", "email": "jane@example.com", "phone": "555-0107",
		"avatar": "https://cdn.example.com/7.png", "checkedIn": "true",
		"checkinTime": 1772353800000
	}`)

	a, err := Normalize(personInfo)
	require.NoError(t, err)
	b, err := Normalize(account)
	require.NoError(t, err)
	c, err := Normalize(flat)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, a, c)

	assert.Equal(t, "7", a.ID)
	assert.Equal(t, "Jane Doe", a.FullName)
	assert.True(t, a.CheckedIn)
	require.NotNil(t, a.CheckinTime)
	assert.True(t, a.CheckinTime.Equal(time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)))
}

func TestNormalize_PersonInfoWinsOverAccountWinsOverTopLevel(t *testing.T) {
	raw := decode(t, `{
		"id": "7",
		"name": "top-level name",
		"unit": "top-level unit",
		"email": "top@example.com",
		"account": {"name": "account name", "unit": "account unit"},
		"person_info": {"full_name": "Person Name"}
	}`)

	rec, err := Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, "Person Name", rec.FullName)
	assert.Equal(t, "account unit", rec.Unit)
	assert.Equal(t, "top@example.com", rec.Email)
}

func TestNormalize_BlankSubFieldFallsThrough(t *testing.T) {
	raw := decode(t, `{"id": "7", "name": "Jane", "personInfo": {"fullName": "  "}}`)

	rec, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "Jane", rec.FullName)
}

func TestNormalize_ToleratesMissingFields(t *testing.T) {
	rec, err := Normalize(decode(t, `{"id": "9"}`))
	require.NoError(t, err)

	assert.Equal(t, "9", rec.ID)
	assert.False(t, rec.CheckedIn)
	assert.Nil(t, rec.CheckinTime)
	assert.Empty(t, rec.FullName)
}

func TestNormalize_MissingID(t *testing.T) {
	_, err := Normalize(decode(t, `{"name": "nobody"}`))
	assert.Error(t, err)
}

func TestNormalize_InvalidTime(t *testing.T) {
	_, err := Normalize(decode(t, `{"id": "1", "checkinTime": "soon"}`))
	assert.Error(t, err)
}
