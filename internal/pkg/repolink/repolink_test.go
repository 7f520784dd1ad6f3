package repolink

import "testing"

func TestOwnerRepo(t *testing.T) {
	cases := map[string]string{
		"https://github.com/acme/widgets":          "acme/widgets",
		"https://github.com/acme/widgets.git":      "acme/widgets",
		"https://github.com/acme/widgets/":         "acme/widgets",
		"https://github.com/acme/widgets.git/":     "acme/widgets",
		"http://ghe.example.com/acme/widgets/tree": "acme/widgets",
		"git@github.com:acme/widgets.git":          "acme/widgets",
		"github.com/acme/widgets":                  "acme/widgets",
		"acme/widgets":                             "acme/widgets",
		" acme/widgets/ ":                          "acme/widgets",
		"https://github.com/acme/widgets?tab=x":    "acme/widgets",
	}
	for in, want := range cases {
		got, err := OwnerRepo(in)
		if err != nil {
			t.Fatalf("OwnerRepo(%q) error: %v", in, err)
		}
		if got != want {
			t.Fatalf("OwnerRepo(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestOwnerRepoInvalid(t *testing.T) {
	for _, in := range []string{"", "https://github.com/", "https://github.com/acme", "widgets"} {
		if _, err := OwnerRepo(in); err == nil {
			t.Fatalf("OwnerRepo(%q) expected error", in)
		}
	}
}

func TestSplit(t *testing.T) {
	owner, name, err := Split("acme/widgets")
	if err != nil || owner != "acme" || name != "widgets" {
		t.Fatalf("Split = %q %q %v", owner, name, err)
	}
	if _, _, err := Split("acme"); err == nil {
		t.Fatal("expected error")
	}
}
