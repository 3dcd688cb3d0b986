package version

import "testing"

func TestCurrent(t *testing.T) {
	orig := Version
	defer func() { Version = orig }()

	Version = "v1.2.0"
	got := Current()
	if got.Version != "v1.2.0" || got.GitSHA != GitSHA {
		t.Errorf("unexpected info %+v", got)
	}
	if s := got.String(); s != "v1.2.0 ("+GitSHA+", built "+BuildTime+")" {
		t.Errorf("unexpected string %q", s)
	}
}
