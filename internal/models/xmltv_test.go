package models_test

import (
	"errors"
	"testing"

	"epg_aggregator/internal/models"

	"github.com/stretchr/testify/require"
)

func TestFeedEncode(t *testing.T) {
	feed := &models.Feed{
		Channels: []models.ChannelRecord{
			{ID: "a", Fragment: []byte(`<channel id="a"></channel>`)},
		},
		Programmes: []models.ProgrammeRecord{
			{Channel: "a", Start: "1", Fragment: []byte(`<programme channel="a" start="1"></programme>`)},
		},
	}

	want := `<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
		`<tv generator-info-name="epg-aggregator">` + "\n" +
		`<channel id="a"></channel>` + "\n" +
		`<programme channel="a" start="1"></programme>` + "\n" +
		`</tv>`
	require.Equal(t, want, string(feed.Encode()))
}

func TestFeedEncode_Empty(t *testing.T) {
	out := (&models.Feed{}).Encode()
	require.Equal(t, `<?xml version="1.0" encoding="UTF-8"?>`+"\n"+
		`<tv generator-info-name="epg-aggregator">`+"\n"+`</tv>`, string(out))
}

func TestRawDocumentAbsent(t *testing.T) {
	require.True(t, models.RawDocument{Source: "x"}.Absent())
	require.True(t, models.RawDocument{Body: []byte("x"), Err: errors.New("boom")}.Absent())
	require.False(t, models.RawDocument{Body: []byte{}}.Absent())
}

func TestFormatString(t *testing.T) {
	require.Equal(t, "xml", models.FormatXML.String())
	require.Equal(t, "gz", models.FormatGzip.String())
}
