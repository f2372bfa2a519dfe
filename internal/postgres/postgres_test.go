package postgres

import (
	"strings"
	"testing"
)

func TestConfigSetup(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "defaults",
			cfg:  Config{},
			want: "host=localhost port=5432 user=postgres dbname=paper_trader password=postgres sslmode=disable application_name=paper-trader",
		},
		{
			name: "bad port falls back",
			cfg:  Config{Host: "db", Port: "abc", DBName: "x"},
			want: "host=db port=5432 user=postgres dbname=x password=postgres sslmode=disable application_name=paper-trader",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Setup().DSN(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if tt.cfg.MaxConns != 10 {
				t.Errorf("max conns = %d", tt.cfg.MaxConns)
			}
		})
	}
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "pg")
	t.Setenv("POSTGRES_MAX_CONNS", "3")
	cfg := NewConfigFromEnv().Setup()
	if cfg.Host != "pg" || cfg.MaxConns != 3 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestConfigStringMasksPassword(t *testing.T) {
	cfg := (&Config{Password: "hunter2"}).Setup()
	if got := cfg.String(); strings.Contains(got, "hunter2") || !strings.Contains(got, "password=***") {
		t.Errorf("String() = %q", got)
	}
}
