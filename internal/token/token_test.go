package token

import (
	"testing"
	"time"

	"github.com/N-Coder/studip-fuse/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return tm
}

func TestSemesterLexical(t *testing.T) {
	cases := []struct {
		begin      string
		short      string
		full       string
	}{
		{"2018-10-01", "2018WS", "2018 WS -19"},
		{"2018-12-31", "2018WS", "2018 WS -19"},
		{"2019-01-15", "2018WS", "2018 WS -19"},
		{"2019-03-31", "2018WS", "2018 WS -19"},
		{"2019-04-01", "2019SS", "2019 SS"},
		{"2019-09-30", "2019SS", "2019 SS"},
	}
	for _, c := range cases {
		s := &entity.Semester{Begin: mustParse(t, c.begin)}
		assert.Equal(t, c.short, semesterLexicalShort(s), c.begin)
		assert.Equal(t, c.full, semesterLexical(s), c.begin)
	}
}

func TestCourseAbbrev(t *testing.T) {
	assert.Equal(t, "AD", courseAbbrev("Algorithmen und Datenstrukturen"))
	assert.Equal(t, "AD", courseAbbrev("Advanced Databases"))
	assert.Equal(t, "3DM", courseAbbrev("3D Modeling"))
}

func TestShortPath(t *testing.T) {
	roots := map[string]bool{"Hauptordner": true, "Allgemeiner Dateiordner": true}
	assert.Equal(t, []string{"Vorlesung", "Folien"}, shortPath([]string{"Hauptordner", "Vorlesung", "Folien"}, roots))
	assert.Equal(t, []string{"Tutorium"}, shortPath([]string{"Tutorium"}, roots))
	assert.Equal(t, []string(nil), shortPath(nil, roots))
}

func TestRenderMissingBindingsAreEmpty(t *testing.T) {
	out := Render(Bindings{})
	for name := range Levels {
		assert.Equal(t, "", out[name], string(name))
	}
}

func TestRenderDeterministic(t *testing.T) {
	b := Bindings{
		Semester: &entity.Semester{ID: "sem1", Title: "WS 18/19", Begin: mustParse(t, "2018-10-01")},
		Course:   &entity.Course{ID: "c1", Title: "Algorithmen und Datenstrukturen", Class: "lecture"},
	}
	first := Render(b)
	second := Render(b)
	assert.Equal(t, first, second)
	assert.Equal(t, "2018WS", first[SemesterLexicalShort])
	assert.Equal(t, "AD", first[CourseAbbrev])
}
