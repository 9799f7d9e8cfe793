package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeProjectPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/home/alice/work/billing-api", "-home-alice-work-billing-api"},
		{"/Users/bob/src/github.com/acme/web", "-Users-bob-src-github-com-acme-web"},
		{"/home/alice/my_project", "-home-alice-my-project"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EncodeProjectPath(tt.in), tt.in)
	}
}

func TestDecodeProjectDir(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"-home-alice-work-api", "/home/alice/work/api"},
		{"-Users-bob-src", "/Users/bob/src"},
		{"plain", "/plain"},
		{"--double", "/double"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DecodeProjectDir(tt.in), tt.in)
	}
}

func TestResolveProject(t *testing.T) {
	tests := []struct {
		name      string
		dir, cwd  string
		wantPath  string
		wantLabel string
	}{
		{
			name:      "cwd round-trips and keeps dashes",
			dir:       "-home-alice-work-billing-api",
			cwd:       "/home/alice/work/billing-api",
			wantPath:  "/home/alice/work/billing-api",
			wantLabel: "work/billing-api",
		},
		{
			name:      "no cwd falls back to naive decode",
			dir:       "-home-alice-work-billing-api",
			wantPath:  "/home/alice/work/billing/api",
			wantLabel: "work/billing/api",
		},
		{
			name:      "cwd from a different project is ignored",
			dir:       "-Users-bob-alpha",
			cwd:       "/Users/bob/beta",
			wantPath:  "/Users/bob/alpha",
			wantLabel: "alpha",
		},
		{
			name:      "outside home uses base name",
			dir:       "-opt-services-search",
			cwd:       "/opt/services/search",
			wantPath:  "/opt/services/search",
			wantLabel: "search",
		},
		{
			name:      "home directory itself",
			dir:       "-home-alice",
			wantPath:  "/home/alice",
			wantLabel: "alice",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ResolveProject(tt.dir, tt.cwd)
			assert.Equal(t, tt.dir, p.Dir)
			assert.Equal(t, tt.wantPath, p.Path)
			assert.Equal(t, tt.wantLabel, p.Label)
		})
	}
}

func TestResolveProject_RoundTrip(t *testing.T) {
	for _, cwd := range []string{"/home/a/x-y/z", "/srv/app", "/Users/me/Code/my.site"} {
		p := ResolveProject(EncodeProjectPath(cwd), cwd)
		assert.Equal(t, cwd, p.Path)
		assert.Equal(t, p.Dir, EncodeProjectPath(p.Path))
	}
}
