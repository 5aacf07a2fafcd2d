package relevance

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vinodismyname/xlsxctx/config"
)

func vocab() Vocabulary { return NewVocabulary(config.DefaultFinanceTerms()) }

func TestKeywords_FinanceTermsFirst(t *testing.T) {
	got := vocab().Keywords("Which region had the highest Revenue growth this Quarter?")
	require.Equal(t, []string{"revenue", "growth", "quarter", "which", "region", "highest", "this"}, got)
}

func TestKeywords_ShortWordsAndDuplicates(t *testing.T) {
	got := vocab().Keywords("roi of the roi for ABC abcd abcd")
	// "roi" is a finance term so three characters is enough; "the" and "abc"
	// are not long enough to be general keywords.
	require.Equal(t, []string{"roi", "abcd"}, got)
}

func TestKeywords_Capped(t *testing.T) {
	got := vocab().Keywords("alpha bravo charlie delta echoes foxtrot golfer hotel india juliet kilo lima mike")
	require.Len(t, got, MaxKeywords)
	require.Equal(t, "alpha", got[0])
}

func TestKeywords_Empty(t *testing.T) {
	require.Empty(t, vocab().Keywords(""))
	require.Empty(t, vocab().Keywords("a an it"))
}

func TestScore(t *testing.T) {
	section := "## Table 1 - sales.xlsx\n\n| Month | Revenue |\n| --- | --- |\n| Jan | revenue-adjusted |\n"

	// revenue (weight 2) occurs twice; "month" (weight 1) once.
	require.Equal(t, 5.0, Score(section, []string{"revenue", "month"}, 0))
	require.Equal(t, 15.0, Score(section, []string{"revenue", "month"}, FilterBonus))
	require.Equal(t, 10.0, Score(section, []string{"revenue", "month"}, SummaryBonus))

	// whole words only
	require.Equal(t, 0.0, Score("revenues and prerevenue", []string{"revenue"}, FilterBonus))
	require.Equal(t, 0.0, Score("", []string{"revenue"}, FilterBonus))
}

func TestRank_ExcludesZeroAndIsStable(t *testing.T) {
	sections := []string{"cost cost", "nothing here", "cost", "cost twice cost"}
	ranked := Rank(sections, []string{"cost"}, FilterBonus)

	require.Len(t, ranked, 3)
	require.Equal(t, 0, ranked[0].Index)
	require.Equal(t, 3, ranked[1].Index)
	require.Equal(t, 2, ranked[2].Index)

	require.Equal(t, []string{"cost cost"}, MostRelevant(sections, []string{"cost"}, FilterBonus, 1))
}

func TestSplitFiles(t *testing.T) {
	ctx := "# A\n\nbody\n\n---\n\n# B\n\n---\n\n"
	require.Equal(t, []string{"# A\n\nbody", "# B"}, SplitFiles(ctx))
	require.Empty(t, SplitFiles(""))
}

func TestSplitSections(t *testing.T) {
	ctx := "# Financial Data from a.xlsx\n\n## Table 1 - a.xlsx\n\n| x |\n\n---\n\n# Financial Data from b.xlsx\n\n## Table 1 - b.xlsx\n\n| y |"
	got := SplitSections(ctx)
	require.Equal(t, []string{
		"# Financial Data from a.xlsx\n",
		"## Table 1 - a.xlsx\n\n| x |",
		"# Financial Data from b.xlsx\n",
		"## Table 1 - b.xlsx\n\n| y |",
	}, got)
}
