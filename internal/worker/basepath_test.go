package worker

import "testing"

func TestBasePath(t *testing.T) {
	tests := []struct {
		script, want string
	}{
		{"https://host.example/service-worker.js", "/"},
		{"https://host.example/app/service-worker.js", "/app/"},
		{"https://host.example/a/b/sw.js?v=3", "/a/b/"},
		{"https://host.example", "/"},
	}
	for _, tt := range tests {
		got, err := BasePath(tt.script)
		if err != nil {
			t.Fatalf("BasePath(%q) error = %v", tt.script, err)
		}
		if got != tt.want {
			t.Errorf("BasePath(%q) = %q, want %q", tt.script, got, tt.want)
		}
	}
}

// TestResolveManifest verifies that manifest paths are rebased onto a sub-path deployment.
func TestResolveManifest(t *testing.T) {
	tests := []struct {
		name      string
		scriptURL string
		manifest  []string
		want      []string
	}{
		{
			name:      "rebased onto sub-path",
			scriptURL: "https://host.example/app/service-worker.js",
			manifest:  []string{"/", "/index.html", "/icons/icon-72.png", "/index.html"},
			want: []string{
				"https://host.example/app/",
				"https://host.example/app/index.html",
				"https://host.example/app/icons/icon-72.png",
			},
		},
		{
			name:      "already under base path",
			scriptURL: "https://host.example/app/service-worker.js",
			manifest:  []string{"/app/icons/icon-96.png", "/app/", "/icons/icon-96.png"},
			want: []string{
				"https://host.example/app/icons/icon-96.png",
				"https://host.example/app/",
			},
		},
		{
			name:      "root deployment",
			scriptURL: "https://host.example/service-worker.js",
			manifest:  []string{"/", "/icons/icon-72.png"},
			want: []string{
				"https://host.example/",
				"https://host.example/icons/icon-72.png",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveManifest(tt.scriptURL, tt.manifest)
			if err != nil {
				t.Fatalf("ResolveManifest() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ResolveManifest() = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("ResolveManifest()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestResolveManifest_RelativeScriptFails(t *testing.T) {
	if _, err := ResolveManifest("service-worker.js", []string{"/"}); err == nil {
		t.Error("ResolveManifest() with relative script url error = nil")
	}
}
