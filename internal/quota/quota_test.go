package quota

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamarack-research/surveyqc/internal/model"
)

func intPtr(v int) *int              { return &v }
func strPtr(s string) *string        { return &s }
func timePtr(t time.Time) *time.Time { return &t }

var validGenders = []int{1, 2}

// finishedRecord builds a record that triggers no reason rule.
func finishedRecord(id string) *model.Record {
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	finished := started.Add(20 * time.Minute)
	return &model.Record{
		ResponseID: id,
		Ticket:     strPtr("TK-" + id),
		StartedAt:  timePtr(started),
		FinishedAt: timePtr(finished),
		Gender:     intPtr(1),
		Province:   intPtr(7),
	}
}

func TestAssignReasonsDefault(t *testing.T) {
	t.Parallel()

	r := finishedRecord("R_1")
	AssignReasons([]*model.Record{r}, validGenders)
	assert.Equal(t, model.ReasonNotExcluded, r.Reason)
}

func TestAssignReasonsRuleOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*model.Record)
		want   model.Reason
	}{
		{
			"any quality flag",
			func(r *model.Record) { r.Flags.Speeder = 1; r.Flags.LongStringFlag = 1 },
			model.ReasonQualityChecks,
		},
		{
			"missing ticket",
			func(r *model.Record) { r.Ticket = nil },
			model.ReasonMissingTicket,
		},
		{
			"empty ticket",
			func(r *model.Record) { r.Ticket = strPtr("") },
			model.ReasonMissingTicket,
		},
		{
			"invalid gender overwrites missing ticket",
			func(r *model.Record) { r.Ticket = nil; r.Gender = intPtr(3) },
			model.ReasonQualityChecks,
		},
		{
			"gender absent",
			func(r *model.Record) { r.Gender = nil },
			model.ReasonQualityChecks,
		},
		{
			"missing exit",
			func(r *model.Record) { r.Flags.TrustCheck = 1; r.FinishedAt = nil },
			model.ReasonDidNotFinish,
		},
		{
			"missing start",
			func(r *model.Record) { r.StartedAt = nil },
			model.ReasonDidNotFinish,
		},
		{
			"withdrawal overwrites quality flag",
			func(r *model.Record) { r.Flags.MediaCheck = 1; r.Withdrawn = intPtr(1) },
			model.ReasonWithdrawal,
		},
		{
			"screenout overwrites withdrawal",
			func(r *model.Record) {
				r.Withdrawn = intPtr(1)
				r.ScreenedOutAt = timePtr(r.StartedAt.Add(time.Minute))
			},
			model.ReasonScreenout,
		},
		{
			"region mismatch overwrites everything",
			func(r *model.Record) {
				r.Flags.Speeder = 1
				r.Ticket = nil
				r.Withdrawn = intPtr(1)
				r.ScreenedOutAt = timePtr(r.StartedAt.Add(time.Minute))
				r.Flags.ProvinceMismatch = 1
			},
			model.ReasonWrongRegion,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := finishedRecord("R_1")
			tt.mutate(r)
			AssignReasons([]*model.Record{r}, validGenders)
			assert.Equal(t, tt.want, r.Reason)
		})
	}
}

func TestCountReasonsSumToTotal(t *testing.T) {
	t.Parallel()

	clean := finishedRecord("R_1")
	flagged := finishedRecord("R_2")
	flagged.Flags.Speeder = 1
	withdrawn := finishedRecord("R_3")
	withdrawn.Flags.Speeder = 1
	withdrawn.Withdrawn = intPtr(1)
	noTicket := finishedRecord("R_4")
	noTicket.Ticket = nil

	records := []*model.Record{clean, flagged, withdrawn, noTicket}
	AssignReasons(records, validGenders)
	counts := CountReasons(records)

	require.Len(t, counts, len(model.Reasons()))
	total := 0
	byReason := make(map[model.Reason]int, len(counts))
	for i, rc := range counts {
		assert.Equal(t, model.Reasons()[i], rc.Reason, "fixed label order")
		total += rc.Count
		byReason[rc.Reason] = rc.Count
	}
	assert.Equal(t, len(records), total)
	assert.Equal(t, 1, byReason[model.ReasonNotExcluded])
	assert.Equal(t, 1, byReason[model.ReasonQualityChecks])
	assert.Equal(t, 1, byReason[model.ReasonWithdrawal])
	assert.Equal(t, 1, byReason[model.ReasonMissingTicket])
	assert.Equal(t, 0, byReason[model.ReasonScreenout], "zero-filled labels present")
}

func TestTabulate(t *testing.T) {
	t.Parallel()

	ontarioWoman1 := finishedRecord("R_1")
	ontarioWoman2 := finishedRecord("R_2")
	ontarioMan := finishedRecord("R_3")
	ontarioMan.Gender = intPtr(2)
	quebecWoman := finishedRecord("R_4")
	quebecWoman.Province = intPtr(9)
	excluded := finishedRecord("R_5")
	excluded.QuotaExcluded = true
	noProvince := finishedRecord("R_6")
	noProvince.Province = nil
	unknownCode := finishedRecord("R_7")
	unknownCode.Province = intPtr(99)

	ct := Tabulate([]*model.Record{
		ontarioWoman1, ontarioWoman2, ontarioMan, quebecWoman,
		excluded, noProvince, unknownCode,
	})

	require.Len(t, ct.Provinces, 14)
	require.Len(t, ct.Genders, 5)
	require.Len(t, ct.Counts, 14)

	find := func(labels []string, want string) int {
		for i, l := range labels {
			if l == want {
				return i
			}
		}
		t.Fatalf("label %q not found", want)
		return -1
	}
	ontario := find(ct.Provinces, "Ontario")
	quebec := find(ct.Provinces, "Quebec")
	woman := find(ct.Genders, "Woman")
	man := find(ct.Genders, "Man")

	assert.Equal(t, 2, ct.Counts[ontario][woman])
	assert.Equal(t, 1, ct.Counts[ontario][man])
	assert.Equal(t, 1, ct.Counts[quebec][woman])
	assert.Equal(t, 0, ct.Counts[find(ct.Provinces, "Manitoba")][woman], "unobserved cells zero-filled")
	assert.Equal(t, 4, ct.Total(), "quota-excluded and unmappable records left out")
}

func TestCrossTabRows(t *testing.T) {
	t.Parallel()

	r := finishedRecord("R_1")
	ct := Tabulate([]*model.Record{r})
	rows := ct.Rows()

	require.Len(t, rows, 15, "header plus one row per province")
	assert.Equal(t, append([]string{"province"}, model.GenderLabels()...), rows[0])

	for _, row := range rows[1:] {
		require.Len(t, row, 6)
		if row[0] == "Ontario" {
			assert.Equal(t, "1", row[1])
		} else {
			assert.Equal(t, []string{"0", "0", "0", "0", "0"}, row[1:])
		}
	}
}
