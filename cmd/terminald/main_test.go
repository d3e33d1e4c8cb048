package main

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"tokosync/terminal/internal/config"
)

func TestValidateSecurityConfig(t *testing.T) {
	cases := []struct {
		name    string
		secret  string
		wantErr bool
	}{
		{"empty", "", true},
		{"short", "too-short", true},
		{"exactly 31", strings.Repeat("a", 31), true},
		{"exactly 32", strings.Repeat("a", 32), false},
		{"long", strings.Repeat("a", 64), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateSecurityConfig(config.Config{AuthSecret: tc.secret})
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestParseTaxRate(t *testing.T) {
	cases := []struct {
		percent string
		want    string
		wantErr bool
	}{
		{"0", "0", false},
		{"8", "0.08", false},
		{"11", "0.11", false},
		{"12.5", "0.125", false},
		{"-1", "", true},
		{"abc", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.percent, func(t *testing.T) {
			got, err := parseTaxRate(tc.percent)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil {
				return
			}
			if want, _ := decimal.NewFromString(tc.want); !got.Equal(want) {
				t.Errorf("parseTaxRate(%q) = %s, want %s", tc.percent, got, tc.want)
			}
		})
	}
}
