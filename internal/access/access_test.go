package access

import (
	"testing"
	"unicode/utf8"
)

func TestCheckModes(t *testing.T) {
	cases := []struct {
		name      string
		mode      Mode
		caller    string
		allowed   bool
		admin     bool
		adminFeat bool
	}{
		{"private allowed", ModePrivate, "100", true, true, true},
		{"private admin only", ModePrivate, "300", false, false, true},
		{"private stranger", ModePrivate, "999", false, false, true},
		{"public stranger", ModePublic, "999", true, false, false},
		{"public listed admin", ModePublic, "300", true, false, false},
		{"community stranger", ModeCommunity, "999", true, false, true},
		{"community admin", ModeCommunity, "300", true, true, true},
		{"community allowed", ModeCommunity, "100", true, true, true},
	}

	for _, tc := range cases {
		c := New(tc.mode, []string{"100", " 200 "}, []string{"300", ""})
		res := c.Check(tc.caller)
		if res.Allowed != tc.allowed || res.IsAdmin != tc.admin {
			t.Errorf("%s: got %+v", tc.name, res)
		}
		if !res.Allowed && res.Reason == "" {
			t.Errorf("%s: denial should carry a reason", tc.name)
		}
		if c.HasAdminFeatures() != tc.adminFeat {
			t.Errorf("%s: HasAdminFeatures=%v", tc.name, c.HasAdminFeatures())
		}
	}
}

func TestTrimmedIDsMatch(t *testing.T) {
	c := New(ModePrivate, []string{" 200 "}, nil)
	if !c.Check("200").Allowed {
		t.Fatal("whitespace around configured ids should be ignored")
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode(" Community "); err != nil || m != ModeCommunity {
		t.Fatalf("unexpected %q %v", m, err)
	}
	if _, err := ParseMode("secret"); err == nil {
		t.Fatal("unknown mode should fail")
	}
}

func TestSanitizeID(t *testing.T) {
	cases := map[string]string{
		"123456789": "1234...89",
		"12345":     "12***",
		"7":         "7***",
	}
	for in, want := range cases {
		if got := SanitizeID(in); got != want {
			t.Errorf("SanitizeID(%q)=%q want %q", in, got, want)
		}
	}
}

func TestSanitizeIDMultiByte(t *testing.T) {
	cases := map[string]string{
		"用户编号一二三四": "用户编号...三四",
		"用户编号一":    "用户***",
		"用户":       "用户***",
	}
	for in, want := range cases {
		got := SanitizeID(in)
		if !utf8.ValidString(got) {
			t.Fatalf("SanitizeID(%q)=%q is not valid UTF-8", in, got)
		}
		if got != want {
			t.Errorf("SanitizeID(%q)=%q want %q", in, got, want)
		}
	}
}
