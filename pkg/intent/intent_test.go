package intent

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateRange_JSON(t *testing.T) {
	r := DateRange{Start: date(2020, 1, 1), End: date(2024, 12, 31)}

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":"2020-01-01","end":"2024-12-31"}`, string(data))

	var back DateRange
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, r, back)

	open, err := json.Marshal(DateRange{Start: date(2022, 1, 1)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":"2022-01-01","end":""}`, string(open))
}

func TestDateRange_UnmarshalForms(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    DateRange
		wantErr bool
	}{
		{"days", `{"start":"2021-03-01","end":"2021-03-31"}`, DateRange{Start: date(2021, 3, 1), End: date(2021, 3, 31)}, false},
		{"rfc3339", `{"start":"2021-03-01T10:00:00Z"}`, DateRange{Start: date(2021, 3, 1)}, false},
		{"null end", `{"start":"","end":null}`, DateRange{}, false},
		{"bad date", `{"start":"March 2021"}`, DateRange{}, true},
		{"not an object", `"2021"`, DateRange{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got DateRange
			err := json.Unmarshal([]byte(tt.input), &got)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDateRange_StringAndResolve(t *testing.T) {
	span := DateRange{Start: date(2020, 1, 1), End: date(2024, 12, 31)}

	assert.Equal(t, "2022-01-01 to open", DateRange{Start: date(2022, 1, 1)}.String())
	assert.Equal(t, DateRange{Start: date(2022, 1, 1), End: span.End}, DateRange{Start: date(2022, 1, 1)}.Resolve(span))
	assert.Equal(t, span, DateRange{}.Resolve(span))
}

func TestIntent_CloneIsDeep(t *testing.T) {
	in := Intent{Countries: []string{"FR"}, DateRange: &DateRange{Start: date(2020, 1, 1)}}
	out := in.Clone()

	out.Countries[0] = "DE"
	out.DateRange.Start = date(2021, 1, 1)

	assert.Equal(t, "FR", in.Countries[0])
	assert.Equal(t, date(2020, 1, 1), in.DateRange.Start)
	assert.False(t, in.Equal(out))
	assert.True(t, in.Equal(in.Clone()))
}
