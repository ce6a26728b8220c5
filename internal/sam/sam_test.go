package sam

import (
	"reflect"
	"testing"
)

const simpleHeader = `@HD	VN:1.5	SO:coordinate
@SQ	SN:r0	LN:100	AN:r0a0
@SQ	SN:r1	LN:200	AN:r1a0,r1a1
@CO	SN:ignored
@SQ	SN:r2	LN:300
`

func TestReferences(t *testing.T) {
	got, err := References(simpleHeader)
	if err != nil {
		t.Fatalf("References() = %v", err)
	}
	want := []Reference{
		{Name: "r0", Aliases: []string{"r0a0"}},
		{Name: "r1", Aliases: []string{"r1a0", "r1a1"}},
		{Name: "r2"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("References() = %v, want %v", got, want)
	}
}

func TestReferences_Empty(t *testing.T) {
	got, err := References("")
	if err != nil || len(got) != 0 {
		t.Errorf("References(\"\") = %v, %v", got, err)
	}
}

func TestReferences_MissingName(t *testing.T) {
	if _, err := References("@SQ\tLN:100\n"); err == nil {
		t.Errorf("References() succeeded, want error")
	}
}
