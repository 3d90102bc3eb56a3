package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scholar-crawler/internal/hash/sha256"
	"github.com/JakeFAU/scholar-crawler/internal/researcher"
)

func record(source researcher.Source, id string, at time.Time, retained bool) researcher.Record {
	return researcher.Record{
		Source:       source,
		SourceID:     id,
		Name:         "Ana Souza",
		Affiliation:  researcher.Unknown,
		Areas:        []string{},
		Publications: []researcher.Publication{{Title: "Aging well", SourceTag: researcher.TagORCID}},
		CapturedAt:   at,
		Retained:     retained,
	}
}

func TestFingerprintIgnoresCaptureTiming(t *testing.T) {
	t.Parallel()

	h := sha256.New()
	morning := record(researcher.SourceINT, "0000-0002-1825-0097", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), true)
	evening := morning.Clone()
	evening.CapturedAt = morning.CapturedAt.Add(10 * time.Hour)
	evening.ExecutionSeconds = 4.2

	a, err := Fingerprint(h, morning)
	require.NoError(t, err)
	b, err := Fingerprint(h, evening)
	require.NoError(t, err)
	require.Equal(t, a, b)

	evening.Publications[0].Title = "Aging better"
	c, err := Fingerprint(h, evening)
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}

func TestSelectFiltersSortsAndLimits(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	records := []researcher.Record{
		record(researcher.SourceBR, "1", base, true),
		record(researcher.SourceINT, "2", base.Add(time.Hour), true),
		record(researcher.SourceScholar, "3", base.Add(2*time.Hour), false),
		record(researcher.SourceINT, "4", base.Add(3*time.Hour), true),
	}

	got := Select(records, researcher.RetainedOnly())
	require.Len(t, got, 3)
	require.Equal(t, []string{"4", "2", "1"}, []string{got[0].SourceID, got[1].SourceID, got[2].SourceID})

	got = Select(records, researcher.Filter{Source: researcher.SourceINT, Limit: 1})
	require.Len(t, got, 1)
	require.Equal(t, "4", got[0].SourceID)

	got[0].Publications[0].Title = "mutated"
	require.Equal(t, "Aging well", records[3].Publications[0].Title)
}
