package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scholar-crawler/internal/researcher"
)

func TestMatchWholeWordsCaseInsensitive(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	require.Equal(t, []string{"older adults"}, f.Match("Quality of life in older adults"))
	require.Equal(t, []string{"older adults"}, f.Match("Quality of life in OLDER\tADULTS."))
	require.Equal(t, []string{"envelhecimento"}, f.Match("ENVELHECIMENTO populacional"))
	require.Equal(t, []string{"geriátrica"}, f.Match("Avaliação geriátrica ampla"))
	require.Empty(t, f.Match("Imaging pipelines"), "aging inside imaging is not a word match")
	require.Empty(t, f.Match("Demências"), "accented suffix keeps the word going")
}

func TestMatchSuppressesProcessTermsInNonHumanContext(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	require.Empty(t, f.Match("Polymer aging in marine environments"))
	require.Empty(t, f.Match("Envelhecimento de vinhos tintos"))
	require.Equal(t, []string{"elderly"}, f.Match("Battery usage among the elderly"),
		"population terms survive the context check")
}

func TestApplyRetention(t *testing.T) {
	t.Parallel()

	f := New(Config{ScholarBypass: true})
	rec := researcher.Record{
		Source: researcher.SourceINT,
		Publications: []researcher.Publication{
			{Title: "Quality of life in older adults"},
			{Title: "Polymer aging in marine environments"},
			{Title: "Frailty in older adults", Venue: "Journal of Gerontology"},
		},
	}
	out := f.Apply(rec)
	require.True(t, out.Retained)
	require.Equal(t, researcher.RetainedByKeyword, out.RetentionReason)
	require.Equal(t, []string{"older adults", "frailty", "gerontology"}, out.MatchedTerms)
	assert.Equal(t, []string{"older adults"}, out.Publications[0].MatchedTerms)
	assert.Empty(t, out.Publications[1].MatchedTerms)
	assert.Equal(t, []string{"older adults", "frailty", "gerontology"}, out.Publications[2].MatchedTerms)
	assert.Nil(t, rec.Publications[0].MatchedTerms, "input is not mutated")

	unmatched := researcher.Record{
		Source:       researcher.SourceINT,
		Publications: []researcher.Publication{{Title: "Compiler design"}},
	}
	out = f.Apply(unmatched)
	require.False(t, out.Retained)
	require.Empty(t, out.RetentionReason)
}

func TestApplyScholarBypass(t *testing.T) {
	t.Parallel()

	rec := researcher.Record{
		Source:       researcher.SourceScholar,
		Publications: []researcher.Publication{{Title: "Compiler design"}},
	}

	out := New(Config{ScholarBypass: true}).Apply(rec)
	require.True(t, out.Retained)
	require.Equal(t, researcher.RetainedByScholarBypass, out.RetentionReason)
	require.Empty(t, out.MatchedTerms)

	out = New(Config{ScholarBypass: false}).Apply(rec)
	require.False(t, out.Retained)
}

func TestApplyScansSnippetAndAuthors(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	out := f.Apply(researcher.Record{Publications: []researcher.Publication{
		{Title: "Cohort study", Snippet: "participants were idosos from three cities"},
	}})
	require.Equal(t, []string{"idosos"}, out.MatchedTerms)
}

func TestCustomVocabulary(t *testing.T) {
	t.Parallel()

	f := New(Config{Vocabulary: []Term{{Text: "c++", Group: Field}}})
	require.Equal(t, []string{"c++"}, f.Match("Modern C++ idioms"))
}
