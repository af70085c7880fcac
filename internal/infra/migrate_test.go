package infra

import "testing"

func TestMigrateURL(t *testing.T) {
	cases := []struct{ in, want string }{
		{"postgres://u:p@localhost:5432/haul?sslmode=disable", "pgx5://u:p@localhost:5432/haul?sslmode=disable"},
		{"postgresql://u:p@db/haul", "pgx5://u:p@db/haul"},
		{"pgx5://already/converted", "pgx5://already/converted"},
	}
	for _, tc := range cases {
		if got := migrateURL(tc.in); got != tc.want {
			t.Errorf("migrateURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
