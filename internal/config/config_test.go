package config

import (
	"flag"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	type want struct {
		runAddress     string
		gatewayAddress string
		raffleAddress  string
		sessionSecret  string
	}

	tests := []struct {
		name  string
		env   map[string]string
		flags []string
		want  want
	}{
		{
			name:  "defaults",
			env:   map[string]string{},
			flags: []string{},
			want: want{
				runAddress: "localhost:8080",
			},
		},
		{
			name: "env only",
			env: map[string]string{
				"RUN_ADDRESS":     "localhost:9999",
				"GATEWAY_ADDRESS": "localhost:8081",
				"RAFFLE_ADDRESS":  "Raff1eAddre55AAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
				"SESSION_SECRET":  "env-secret",
			},
			flags: []string{},
			want: want{
				runAddress:     "localhost:9999",
				gatewayAddress: "localhost:8081",
				raffleAddress:  "Raff1eAddre55AAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
				sessionSecret:  "env-secret",
			},
		},
		{
			name: "flags only",
			env:  map[string]string{},
			flags: []string{
				"-a", "localhost:7777",
				"-g", "gateway:8080",
				"-r", "F1agRaff1eAddre55AAAAAAAAAAAAAAAAAAAAAAAAAA",
				"-s", "flag-secret",
			},
			want: want{
				runAddress:     "localhost:7777",
				gatewayAddress: "gateway:8080",
				raffleAddress:  "F1agRaff1eAddre55AAAAAAAAAAAAAAAAAAAAAAAAAA",
				sessionSecret:  "flag-secret",
			},
		},
		{
			name: "env overrides flags",
			env: map[string]string{
				"RUN_ADDRESS":     "env:9000",
				"GATEWAY_ADDRESS": "env-gateway:8081",
				"RAFFLE_ADDRESS":  "EnvRaff1eAddre55AAAAAAAAAAAAAAAAAAAAAAAAAAA",
				"SESSION_SECRET":  "env-secret",
			},
			flags: []string{
				"-a", "flag:8000",
				"-g", "flag-gateway:8080",
				"-r", "F1agRaff1eAddre55AAAAAAAAAAAAAAAAAAAAAAAAAA",
				"-s", "flag-secret",
			},
			want: want{
				runAddress:     "env:9000",
				gatewayAddress: "env-gateway:8081",
				raffleAddress:  "EnvRaff1eAddre55AAAAAAAAAAAAAAAAAAAAAAAAAAA",
				sessionSecret:  "env-secret",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			os.Args = append([]string{"test"}, tt.flags...)

			cfg, err := Parse()
			require.NoError(t, err)

			assert.Equal(t, tt.want.runAddress, cfg.RunAddress)
			assert.Equal(t, tt.want.gatewayAddress, cfg.GatewayAddress)
			assert.Equal(t, tt.want.raffleAddress, cfg.RaffleAddress)
			assert.Equal(t, tt.want.sessionSecret, cfg.SessionSecret)
		})
	}
}
