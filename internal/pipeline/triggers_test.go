package pipeline

import "testing"

func TestTriggersParse(t *testing.T) {
	cases := []struct {
		text  string
		kind  CommandKind
		query string
	}{
		{"בדיקה", CommandStatus, ""},
		{"  בדיקה \n", CommandStatus, ""},
		{"בדיקה עכשיו", CommandNone, ""},
		{"חפשי לי מטען אלחוטי", CommandSearch, "מטען אלחוטי"},
		{"חפש לי   כבל USB-C ", CommandSearch, "כבל USB-C"},
		{"חפשי לי", CommandNone, ""},
		{"חפשי ליכבל", CommandNone, ""},
		{"שלום לכולם", CommandNone, ""},
		{"", CommandNone, ""},
	}
	for _, tc := range cases {
		got := DefaultTriggers.Parse(tc.text)
		if got.Kind != tc.kind || got.Query != tc.query {
			t.Fatalf("%q: expected %v/%q, got %v/%q", tc.text, tc.kind, tc.query, got.Kind, got.Query)
		}
	}
}
