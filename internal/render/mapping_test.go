package render

import "testing"

func TestSuggestMapping(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		headers []string
		want    map[string]string
	}{
		{
			name:    "plain english headers",
			headers: []string{"Name", "E-Mail", "Company"},
			want: map[string]string{
				FieldAddress: "E-Mail",
				FieldName:    "Name",
				FieldCompany: "Company",
			},
		},
		{
			name:    "german headers",
			headers: []string{"Anrede", "Vorname", "Firma", "Email Address"},
			want: map[string]string{
				FieldAddress:    "Email Address",
				FieldName:       "Vorname",
				FieldSalutation: "Anrede",
				FieldCompany:    "Firma",
			},
		},
		{
			name:    "unrelated headers produce no suggestion",
			headers: []string{"Notes", "Deadline"},
			want:    map[string]string{},
		},
		{
			name:    "a column feeds at most one field",
			headers: []string{"Recipient Name"},
			want: map[string]string{
				FieldName: "Recipient Name",
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := SuggestMapping(tc.headers)
			if len(got) != len(tc.want) {
				t.Fatalf("SuggestMapping() = %v, want %v", got, tc.want)
			}
			for field, header := range tc.want {
				if got[field] != header {
					t.Fatalf("SuggestMapping()[%s] = %q, want %q", field, got[field], header)
				}
			}
		})
	}
}

func TestNormalizeHeader(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in   string
		want string
	}{
		{in: "  E-Mail ", want: "e-mail"},
		{in: "Full Name", want: "fullname"},
		{in: "FIRMA", want: "firma"},
		{in: "***", want: ""},
	}

	for _, tc := range testCases {
		if got := normalizeHeader(tc.in); got != tc.want {
			t.Fatalf("normalizeHeader(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
