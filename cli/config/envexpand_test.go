package config

import (
	"testing"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("CINEMA_TEST_HOST", "10.0.0.7")
	t.Setenv("CINEMA_TEST_EMPTY", "")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"set var", "host: ${CINEMA_TEST_HOST}", "host: 10.0.0.7"},
		{"unset var expands empty", "host: ${CINEMA_UNSET_12345}", "host: "},
		{"default when unset", "port: ${CINEMA_UNSET_12345:-10001}", "port: 10001"},
		{"default ignored when set", "host: ${CINEMA_TEST_HOST:-127.0.0.1}", "host: 10.0.0.7"},
		{"default when empty", "host: ${CINEMA_TEST_EMPTY:-127.0.0.1}", "host: 127.0.0.1"},
		{"multiple vars", "${CINEMA_TEST_HOST}:${CINEMA_UNSET_12345:-10001}", "10.0.0.7:10001"},
		{"no vars", "timesteps: 10", "timesteps: 10"},
		{"bare dollar untouched", "price: $5", "price: $5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandEnv(tt.input); got != tt.want {
				t.Errorf("ExpandEnv(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExpandEnv_NestedInYAML(t *testing.T) {
	t.Setenv("CINEMA_REDIS_URL", "redis://cache:6379/0")
	t.Setenv("CINEMA_BUCKET", "renders")
	t.Setenv("CINEMA_S3_ENDPOINT", "http://minio:9000")

	input := `adapter:
  type: redis
  url: ${CINEMA_REDIS_URL}
collector:
  output: ${CINEMA_BUCKET}/frames
storage:
  backend: s3
  endpoint: ${CINEMA_S3_ENDPOINT:-https://s3.amazonaws.com}`

	got := ExpandEnv(input)
	want := `adapter:
  type: redis
  url: redis://cache:6379/0
collector:
  output: renders/frames
storage:
  backend: s3
  endpoint: http://minio:9000`

	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}
